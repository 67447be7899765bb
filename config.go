package kernel

// Config tunes the kernel for an application, the runtime-validated
// replacement for config.h's compile-time defines. Construct with
// DefaultConfig and override only the fields an application needs to
// change.
type Config struct {
	// TickRateHz is the system tick frequency. Default 1000 (1ms tick).
	TickRateHz uint32

	// MaxTasks bounds the static task pool. Default 16.
	MaxTasks int

	// MaxPriority bounds the number of ready-list priority levels;
	// priority 0 is highest, MaxPriority-1 is lowest. Default 32.
	MaxPriority int

	// DefaultStackSize is used when TaskCreate is given a zero stack
	// size. Default 1024 bytes.
	DefaultStackSize int

	// MinStackSize rejects TaskCreate calls below this size. Default 256 bytes.
	MinStackSize int

	// IdleStackSize sizes the kernel-owned idle task's stack. Default 256 bytes.
	IdleStackSize int

	// TaskNameMax bounds a task's printable name, NUL-terminated in spirit
	// (Go strings are truncated at this length rather than padded). Default 16.
	TaskNameMax int

	// TimeSliceTicks is the round-robin quantum. Default 10.
	TimeSliceTicks uint32

	// RoundRobin enables tail-rotation among equal-priority ready tasks
	// on time-slice expiry. Default true.
	RoundRobin bool

	// Preemptive is read by the Scheduler when it reports whether a
	// newly ready task outranks the running one (addTask, unblockTask,
	// setPriority, onTick). Default true. The Kernel does not act on
	// those reports: every reschedule point switches to the
	// highest-priority ready task, so setting this false does not give
	// a cooperative, Yield-only kernel.
	Preemptive bool

	// PriorityInheritance enables mutex owner priority boosting. Default true.
	PriorityInheritance bool

	// SoftwareTimersEnabled wires timer_tick_isr into the tick path. Default true.
	SoftwareTimersEnabled bool

	// MaxSoftwareTimers bounds the software timer pool that NewTimer
	// allocates from. Default 8.
	MaxSoftwareTimers int

	// StackCheckEnabled scans the fill pattern for overflow/high-water
	// marking. Default true.
	StackCheckEnabled bool

	// StackFillWord is written across a new stack before first run.
	StackFillWord uint32

	// StackGuardWord is the sentinel checked at the stack base.
	StackGuardWord uint32

	// TaskStatsEnabled records run_count/total_ticks/max_stack_used per task.
	TaskStatsEnabled bool

	// IdleHook runs in the idle task's loop body. Default: return
	// immediately (the Go equivalent of "wait for interrupt" is
	// yielding the OS thread via runtime.Gosched, since there is no
	// WFI to execute).
	IdleHook func()

	// TickHook runs after scheduler_tick/timer_tick on every tick. Default no-op.
	TickHook func()

	// StackOverflowHook runs when a stack overflow is detected. Default:
	// the overflow is reported through AssertHook (logged when that is
	// nil); the task is not stopped and stays schedulable.
	StackOverflowHook func(t *Task)

	// AssertHook runs when an internal invariant check fails. Default logs.
	AssertHook func(msg string)
}

// DefaultConfig returns the kernel's documented default tuning.
func DefaultConfig() Config {
	return Config{
		TickRateHz:             1000,
		MaxTasks:               16,
		MaxPriority:            32,
		DefaultStackSize:       1024,
		MinStackSize:           256,
		IdleStackSize:          256,
		TaskNameMax:            16,
		TimeSliceTicks:         10,
		RoundRobin:             true,
		Preemptive:             true,
		PriorityInheritance:    true,
		SoftwareTimersEnabled:  true,
		MaxSoftwareTimers:      8,
		StackCheckEnabled:      true,
		StackFillWord:          0xCDCDCDCD,
		StackGuardWord:         0xDEADBEEF,
		TaskStatsEnabled:       true,
		IdleHook:               nil,
		TickHook:               nil,
		StackOverflowHook:      nil,
		AssertHook:             nil,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.TickRateHz == 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.MaxTasks == 0 {
		c.MaxTasks = d.MaxTasks
	}
	if c.MaxPriority == 0 {
		c.MaxPriority = d.MaxPriority
	}
	if c.DefaultStackSize == 0 {
		c.DefaultStackSize = d.DefaultStackSize
	}
	if c.MinStackSize == 0 {
		c.MinStackSize = d.MinStackSize
	}
	if c.IdleStackSize == 0 {
		c.IdleStackSize = d.IdleStackSize
	}
	if c.TaskNameMax == 0 {
		c.TaskNameMax = d.TaskNameMax
	}
	if c.TimeSliceTicks == 0 {
		c.TimeSliceTicks = d.TimeSliceTicks
	}
	if c.MaxSoftwareTimers == 0 {
		c.MaxSoftwareTimers = d.MaxSoftwareTimers
	}
	if c.StackFillWord == 0 {
		c.StackFillWord = d.StackFillWord
	}
	if c.StackGuardWord == 0 {
		c.StackGuardWord = d.StackGuardWord
	}
}

// MSToTicks converts milliseconds to ticks at this config's tick rate
// (config.h's MS_TO_TICKS).
func (c Config) MSToTicks(ms uint32) uint32 {
	return (ms * c.TickRateHz) / 1000
}

// TicksToMS converts ticks to milliseconds at this config's tick rate
// (config.h's TICKS_TO_MS).
func (c Config) TicksToMS(ticks uint32) uint32 {
	return (ticks * 1000) / c.TickRateHz
}

// TimeoutNone and TimeoutForever are the two reserved timeout values:
// "do not block" and "block until signaled".
const (
	TimeoutNone    uint32 = 0
	TimeoutForever uint32 = 0xFFFFFFFF
)
