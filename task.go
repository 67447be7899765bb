package kernel

// State is a task's position in the scheduler's state machine.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSuspended:
		return "suspended"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// BlockReason discriminates why a task sits in the blocked set.
type BlockReason uint8

const (
	BlockNone BlockReason = iota
	BlockDelay
	BlockSemaphore
	BlockMutex
	BlockQueueSend
	BlockQueueRecv
	BlockEvent
)

// wakeNever is the "never" sentinel for wake_tick: a task blocked with
// TimeoutForever is never woken by Scheduler.onTick.
const wakeNever uint64 = ^uint64(0)

// membership tracks which of the two intrusive lists currently holds a
// task, so removeTask can unlink it without guessing from state alone
// (invariant I1).
type membership uint8

const (
	memNone membership = iota
	memReady
	memBlocked
)

// TaskFunc is a task's entry point. arg is the opaque pointer supplied
// at creation.
type TaskFunc func(arg any)

// Task is the kernel's per-task control block. The layout keeps
// sp-equivalent state first only for documentation parity with the
// "SP must be the first field" convention a register-level port
// depends on; no assembly in this module reads the struct by offset,
// since context switches here are a channel baton handoff rather than
// a reloaded stack-pointer register.
type Task struct {
	resumeCh chan struct{} // the context-switch baton for this task

	// identity
	id    uint32
	name  string
	entry TaskFunc
	arg   any
	flags uint8

	// scheduling
	priority     int
	basePriority int
	state        State
	timeSlice    uint32

	// stack bookkeeping (see DESIGN.md: execution uses the goroutine's
	// native stack; this buffer exists only to give CONFIG_STACK_CHECK
	// and CONFIG_TASK_STATS something concrete to scan)
	stack     []uint32
	stackSize int

	// blocking state
	blockReason  BlockReason
	blockObject  any
	wakeTick     uint64
	blockResult  error
	eventWant    uint32
	eventWaitAll bool

	// intrusive list linkage: exactly one of ready[priority] or the
	// blocked list holds a task at any critical-section boundary (I1).
	next, prev *Task
	membership membership

	// statistics (CONFIG_TASK_STATS)
	runCount     uint64
	totalTicks   uint64
	maxStackUsed int

	// set once by the kernel that owns this task's pool slot, used by
	// task_delete-equivalent cleanup.
	poolSlot int
	k        *Kernel
}

// ID returns the task's monotonically assigned identifier.
func (t *Task) ID() uint32 { return t.id }

// Name returns the task's printable name.
func (t *Task) Name() string { return t.name }

// Priority returns the task's current (possibly inherited) priority.
func (t *Task) Priority() int { return t.priority }

// BasePriority returns the task's priority absent any mutex inheritance boost.
func (t *Task) BasePriority() int { return t.basePriority }

// State returns the task's scheduling state.
func (t *Task) State() State { return t.state }

// Stats is a snapshot of CONFIG_TASK_STATS counters.
type Stats struct {
	RunCount     uint64
	TotalTicks   uint64
	MaxStackUsed int
	StackSize    int
}

// Stats returns a snapshot of this task's runtime statistics. Zero
// value if Config.TaskStatsEnabled is false.
func (t *Task) Stats() Stats {
	if t.k != nil && !t.k.cfg.TaskStatsEnabled {
		return Stats{}
	}
	return Stats{
		RunCount:     t.runCount,
		TotalTicks:   t.totalTicks,
		MaxStackUsed: t.maxStackUsed,
		StackSize:    t.stackSize,
	}
}

// fillStack writes the configured fill pattern across the whole
// backing buffer and the guard word at the base (index 0), exactly as
// kernel.c's task_create does before computing stack_top.
func fillStack(buf []uint32, fill, guard uint32) {
	for i := range buf {
		buf[i] = fill
	}
	if len(buf) > 0 {
		buf[0] = guard
	}
}

// stackHighWaterUsed scans up from just above the guard word at the
// base (index 0, see fillStack) for the first word that no longer
// matches the fill pattern, the same technique CONFIG_STACK_CHECK uses
// to detect overflow: a used stack overwrites fill words from the top
// down, so the lowest surviving run of fill words marks how far the
// task has never reached. The guard word itself counts as unused.
func stackHighWaterUsed(buf []uint32, fill uint32) int {
	if len(buf) == 0 {
		return 0
	}
	unused := 1
	for _, w := range buf[1:] {
		if w != fill {
			break
		}
		unused++
	}
	return (len(buf) - unused) * 4
}

// stackOverflowed reports whether the guard word at the stack base has
// been clobbered, the condition kernel_stack_overflow_hook exists to
// handle.
func stackOverflowed(buf []uint32, guard uint32) bool {
	return len(buf) > 0 && buf[0] != guard
}
