package kernel

import (
	"fmt"
	"log"
	"runtime"
	"sync"
)

// KernelState is the kernel's lifecycle state machine.
type KernelState uint8

const (
	StateUninit KernelState = iota
	StateInit
	StateRunningKernel
	StateStopped
)

func (s KernelState) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateInit:
		return "init"
	case StateRunningKernel:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const taskFlagDeleting uint8 = 1 << 0

// Kernel owns the task pool, the scheduler, and the critical section
// that serializes every operation below, collapsed into one global
// lock the way a single-core kernel's critical_enter/critical_exit
// would, but here a real sync.Mutex since task goroutines and
// Tick-equivalent ISR calls can genuinely run on different OS threads.
type Kernel struct {
	cfg   Config
	mu    sync.Mutex
	sched *Scheduler

	state  KernelState
	inISR  bool
	nextID uint32

	tasks     []*Task
	taskByID  map[uint32]*Task
	freeSlots []bool

	idle   *Task
	bootCh chan struct{}

	timers *timerPool
}

// NewKernel validates cfg, fills in defaults, and brings the kernel up
// to the init state. Start must be called separately to begin
// scheduling, keeping construction and scheduling as distinct steps.
func NewKernel(cfg Config) (*Kernel, error) {
	cfg.applyDefaults()
	if cfg.MaxPriority <= 0 || cfg.MaxPriority > 64 {
		return nil, fmt.Errorf("kernel: MaxPriority must be in (0,64], got %d", cfg.MaxPriority)
	}
	if cfg.MaxTasks <= 0 {
		return nil, fmt.Errorf("kernel: MaxTasks must be positive, got %d", cfg.MaxTasks)
	}
	if cfg.MinStackSize <= 0 || cfg.DefaultStackSize < cfg.MinStackSize {
		return nil, fmt.Errorf("kernel: DefaultStackSize must be >= MinStackSize")
	}

	k := &Kernel{
		cfg:       cfg,
		sched:     newScheduler(cfg),
		taskByID:  make(map[uint32]*Task),
		freeSlots: make([]bool, cfg.MaxTasks),
		bootCh:    make(chan struct{}),
	}
	for i := range k.freeSlots {
		k.freeSlots[i] = true
	}
	k.tasks = make([]*Task, cfg.MaxTasks)

	if cfg.SoftwareTimersEnabled {
		k.timers = newTimerPool(cfg.MaxSoftwareTimers)
	}

	idle, err := k.createTaskLocked("idle", idleEntry, k, cfg.MaxPriority-1, cfg.IdleStackSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to create idle task: %w", err)
	}
	k.idle = idle

	k.state = StateInit
	return k, nil
}

// idleEntry is the body of the kernel-owned idle task. It is the one
// task guaranteed to run whenever nothing else is ready, so it is also
// where a tick-triggered preemption that nobody else checked in for
// finally takes effect: checkpoint picks up whatever Tick last decided
// before handing the CPU back to IdleHook/Gosched.
func idleEntry(arg any) {
	k := arg.(*Kernel)
	for {
		k.checkpoint()
		if k.cfg.IdleHook != nil {
			k.cfg.IdleHook()
		} else {
			runtime.Gosched()
		}
	}
}

// State returns the kernel's current lifecycle state.
func (k *Kernel) State() KernelState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// GetTick returns the number of ticks processed so far.
func (k *Kernel) GetTick() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sched.tickCount()
}

// GetTickRate returns the configured tick frequency in Hz.
func (k *Kernel) GetTickRate() uint32 {
	return k.cfg.TickRateHz
}

// Start transitions the kernel to RUNNING, hands off execution to the
// highest-priority ready task, and blocks the calling goroutine until
// Stop is called. Call it from whatever goroutine is acting as the
// system's boot thread (main, typically).
func (k *Kernel) Start() error {
	k.mu.Lock()
	if k.state != StateInit {
		k.mu.Unlock()
		return fmt.Errorf("kernel: Start called in state %s, want %s", k.state, StateInit)
	}
	k.state = StateRunningKernel

	first := k.sched.next()
	if first == nil {
		first = k.idle
	}
	// first stays physically linked in its ready list (I3): only its
	// state and k.sched.running change, matching how reschedule leaves
	// the newly-running task in place rather than unlinking it.
	first.state = StateRunning
	k.sched.running = first
	first.runCount++

	first.resumeCh <- struct{}{}
	k.mu.Unlock()

	<-k.bootCh
	return nil
}

// Stop transitions the kernel to STOPPED and releases the goroutine
// blocked in Start. In-flight tasks remain parked on their resume
// channels; nothing further schedules them.
func (k *Kernel) Stop() error {
	k.mu.Lock()
	if k.state != StateRunningKernel {
		k.mu.Unlock()
		return ErrState
	}
	k.state = StateStopped
	k.mu.Unlock()

	k.bootCh <- struct{}{}
	return nil
}

// Tick is the software equivalent of the periodic tick ISR
// (timer.c's timer_tick_isr + scheduler.c's scheduler_tick). The
// caller is expected to invoke it once per tick period, e.g. from a
// time.Ticker loop; Tick itself does no sleeping.
func (k *Kernel) Tick() {
	k.mu.Lock()
	k.inISR = true

	// tick's bookkeeping (waking delayed/timed-out tasks, charging the
	// time slice) may decide a switch is owed, but Tick's own goroutine
	// is never the running task's goroutine: it cannot perform that
	// switch itself (see reschedule's doc comment). Whatever it decided
	// takes effect at the running task's next checkpoint: promptly when
	// the idle task is running, since it checkpoints every loop; a
	// running task that never calls into the kernel holds it off until
	// it next does.
	k.sched.onTick()
	if k.timers != nil {
		k.timers.onTick(k)
	}
	if k.cfg.TickHook != nil {
		k.cfg.TickHook()
	}

	k.inISR = false
	k.mu.Unlock()
}

// GetCurrent returns the task presently running, or nil before Start.
func (k *Kernel) GetCurrent() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sched.running
}

// Yield voluntarily gives up the remainder of the current time slice
// to any other ready task at the same priority (scheduler_yield).
func (k *Kernel) Yield() {
	k.dispatch(svcYield, func() {
		k.sched.yield()
	})
}

// Delay blocks the calling task for the given number of ticks.
// Delay(0) blocks until the next tick boundary rather than returning
// immediately: a deterministic one-tick yield distinct from Yield's
// same-tick rotation.
func (k *Kernel) Delay(ticks uint32) {
	self := k.GetCurrent()
	if self == nil || self == k.idle {
		return
	}
	k.dispatch(svcDelay, func() {
		k.sched.blockCurrent(BlockDelay, nil, ticksOrOneTick(ticks))
	})
}

func ticksOrOneTick(ticks uint32) uint32 {
	if ticks == 0 {
		return 1
	}
	return ticks
}

// DelayMS is Delay expressed in milliseconds at the kernel's configured tick rate.
func (k *Kernel) DelayMS(ms uint32) {
	k.Delay(k.cfg.MSToTicks(ms))
}

// SetPriority changes t's base priority, resolving any pending
// preemption immediately.
func (k *Kernel) SetPriority(t *Task, priority int) error {
	if priority < 0 || priority >= k.cfg.MaxPriority {
		return ErrParam
	}
	k.dispatch(svcSetPriority, func() {
		t.basePriority = priority
		k.sched.setPriority(t, priority)
	})
	return nil
}

// TaskCreate allocates a task control block, starts its goroutine
// parked on its baton channel, and makes it Ready. stackSize of 0 uses
// Config.DefaultStackSize.
func (k *Kernel) TaskCreate(name string, entry TaskFunc, arg any, priority int, stackSize int) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == StateUninit || k.state == StateStopped {
		return nil, ErrState
	}
	return k.createTaskLocked(name, entry, arg, priority, stackSize)
}

func (k *Kernel) createTaskLocked(name string, entry TaskFunc, arg any, priority int, stackSize int) (*Task, error) {
	if entry == nil {
		return nil, ErrParam
	}
	if priority < 0 || priority >= k.cfg.MaxPriority {
		return nil, ErrParam
	}
	if stackSize == 0 {
		stackSize = k.cfg.DefaultStackSize
	}
	if stackSize < k.cfg.MinStackSize {
		return nil, ErrParam
	}

	slot := -1
	for i, free := range k.freeSlots {
		if free {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, ErrNoMem
	}

	if len(name) > k.cfg.TaskNameMax {
		name = name[:k.cfg.TaskNameMax]
	}

	words := stackSize / 4
	t := &Task{
		resumeCh:     make(chan struct{}, 1),
		id:           k.nextID,
		name:         name,
		entry:        entry,
		arg:          arg,
		priority:     priority,
		basePriority: priority,
		stack:        make([]uint32, words),
		stackSize:    stackSize,
		poolSlot:     slot,
		k:            k,
	}
	if k.cfg.StackCheckEnabled {
		fillStack(t.stack, k.cfg.StackFillWord, k.cfg.StackGuardWord)
	}
	k.nextID++

	k.freeSlots[slot] = false
	k.tasks[slot] = t
	k.taskByID[t.id] = t

	go k.taskTrampoline(t)

	k.sched.addTask(t)
	k.maybeReschedule()
	return t, nil
}

// TaskDelete removes t from scheduling. If t is the calling task, the
// call does not return: the goroutine parks forever on its own baton,
// the closest Go analogue to freeing a stack that will never be
// reentered.
func (k *Kernel) TaskDelete(t *Task) error {
	if t == nil || t == k.idle {
		return ErrParam
	}

	k.mu.Lock()
	if t.state == StateDeleted {
		k.mu.Unlock()
		return ErrDeleted
	}
	self := k.sched.running == t

	k.sched.removeTask(t)
	t.state = StateDeleted
	t.flags |= taskFlagDeleting
	delete(k.taskByID, t.id)
	k.tasks[t.poolSlot] = nil
	k.freeSlots[t.poolSlot] = true

	if self {
		k.reschedule()
		// unreachable: reschedule parks this goroutine on t.resumeCh,
		// which nothing will ever signal again.
	}
	k.mu.Unlock()
	return nil
}

// taskExit runs when a task's entry function returns instead of
// looping forever; treated the same as a self-delete.
func (k *Kernel) taskExit(t *Task) {
	k.TaskDelete(t)
}

// TaskSuspend removes t from scheduling without deleting it; TaskResume reverses it.
func (k *Kernel) TaskSuspend(t *Task) error {
	if t == nil || t == k.idle {
		return ErrParam
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if t.state == StateDeleted {
		return ErrDeleted
	}
	if t.state == StateSuspended {
		return nil
	}
	self := k.sched.running == t
	k.sched.removeTask(t)
	t.state = StateSuspended
	if self {
		k.reschedule()
	}
	return nil
}

// TaskResume makes a suspended task Ready again.
func (k *Kernel) TaskResume(t *Task) error {
	if t == nil {
		return ErrParam
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if t.state == StateDeleted {
		return ErrDeleted
	}
	if t.state != StateSuspended {
		return nil
	}
	k.sched.addTask(t)
	k.maybeReschedule()
	return nil
}

// LockScheduler suppresses preemption without disabling Tick or the
// unblock side of any primitive: ISRs still run and still wake waiters,
// they just can't force a context switch until the matching
// UnlockScheduler. Nests; each call must be matched by one unlock.
// The common use is a short run of operations across several
// primitives that must appear atomic to other tasks without paying for
// a full critical section across the whole sequence.
func (k *Kernel) LockScheduler() {
	k.mu.Lock()
	k.sched.lock()
	k.mu.Unlock()
}

// UnlockScheduler reverses one LockScheduler call. If the nesting count
// reaches zero and a reschedule was deferred while locked, it happens
// here, on the calling task's own goroutine.
func (k *Kernel) UnlockScheduler() {
	k.mu.Lock()
	doSwitch := k.sched.unlock()
	if doSwitch {
		k.reschedule()
	}
	k.mu.Unlock()
}

func (k *Kernel) assertf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if k.cfg.AssertHook != nil {
		k.cfg.AssertHook(msg)
		return
	}
	log.Printf("kernel: assertion failed: %s", msg)
}
