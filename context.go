package kernel

// A context switch on a real preemptive kernel means saving the
// running task's registers and stack pointer, then restoring the next
// task's. There is no hardware exception here: a "context switch" is
// handing a buffered struct{} baton to the next task's goroutine and
// parking the current one on its own baton channel. Parking a
// goroutine on a channel receive already saves every register and the
// full call stack a hardware trap handler would; Go's scheduler does
// the restore automatically when the channel is signaled again.
//
// switchTo, reschedule, checkStack and maybeReschedule assume the
// caller already holds k.mu; checkpoint and dispatch take it
// themselves. Dispatch is the seam Yield, Delay and SetPriority funnel
// through: it runs the call's scheduler mutation and the follow-up
// switch check in one place.

// svc selector constants name the operations dispatch funnels through
// rather than routing through a real trap. Nothing reads these except
// dispatch's own callers; they exist purely for documentation parity
// with a trap-numbered syscall table.
const (
	svcYield = iota
	svcDelay
	svcBlock
	svcUnblockOne
	svcUnblockAll
	svcCreate
	svcDelete
	svcSetPriority
)

// switchTo parks the caller (from) and resumes to. Must be called
// with k.mu held; returns with k.mu held again once the caller is
// rescheduled. to must already be marked Running and installed as
// k.sched.running by the caller.
func (k *Kernel) switchTo(from, to *Task) {
	if from == to {
		return
	}

	to.resumeCh <- struct{}{}

	if from == nil {
		// boot path: nothing to park, the caller isn't a task goroutine.
		return
	}

	k.mu.Unlock()
	<-from.resumeCh
	k.mu.Lock()
}

// reschedule picks the next ready task (if different from the one
// currently running) and switches to it. Called with k.mu held, and
// ONLY from the goroutine that is itself k.sched.running (or, at boot,
// from Start before any task has run): switchTo parks the *caller*,
// so calling this from any other goroutine would park the wrong one.
// Tick and other ISR-equivalent callers must never call this directly;
// see maybeReschedule.
func (k *Kernel) reschedule() {
	next := k.sched.next()
	if next == nil {
		next = k.idle
	}
	if next == k.sched.running {
		return
	}

	prev := k.sched.running
	if prev != nil && prev.state == StateRunning {
		// prev is merely preempted or yielding, not blocked/suspended/
		// deleted (those transitions already changed its state before
		// calling reschedule): it goes back to Ready, staying at the
		// head of its ready list per I3 until something rotates it.
		prev.state = StateReady
	}

	next.state = StateRunning
	k.sched.running = next
	next.runCount++

	if prev != nil && k.cfg.StackCheckEnabled {
		k.checkStack(prev)
	}

	k.switchTo(prev, next)
}

// checkStack scans t's stack buffer the way CONFIG_STACK_CHECK does on
// every context switch out: fill words still present from the base
// mark how much headroom t never touched, and a clobbered guard word
// means it touched past its allotted size. Since task code here runs
// on the goroutine's own native stack rather than this buffer, a
// real overflow is never organically produced; the scan exists so an
// application exercising Task.Stats or a custom StackOverflowHook
// still sees the bookkeeping path kept up to date.
func (k *Kernel) checkStack(t *Task) {
	if stackOverflowed(t.stack, k.cfg.StackGuardWord) {
		if k.cfg.StackOverflowHook != nil {
			k.cfg.StackOverflowHook(t)
		} else {
			k.assertf("stack overflow in task %q (id %d)", t.name, t.id)
		}
		return
	}
	used := stackHighWaterUsed(t.stack, k.cfg.StackFillWord)
	if used > t.maxStackUsed {
		t.maxStackUsed = used
	}
}

// maybeReschedule calls reschedule only when it is safe to park the
// calling goroutine: not from Tick's ISR-equivalent context (its
// caller isn't any task's goroutine, so it must never become "prev").
// Safe to call from any task's own goroutine after a scheduler
// mutation that might have changed who should run. A no-op reschedule
// (next == running) costs nothing, so callers don't need to compute
// whether one is needed.
//
// While the scheduler is explicitly locked (LockScheduler), the switch
// is deferred rather than dropped: it records reschedulePending so
// UnlockScheduler honors it once the matching unlock brings the
// nesting count back to zero, the same contract yield already relies
// on for its own deferral.
func (k *Kernel) maybeReschedule() {
	if k.state != StateRunningKernel || k.inISR {
		return
	}
	if k.sched.isLocked() {
		k.sched.reschedulePending = true
		return
	}
	k.reschedule()
}

// checkpoint is the cooperative preemption point every task eventually
// passes through. It is reschedule's entry for code that isn't itself
// blocking on anything (notably the idle loop): a tick may have made a
// higher-priority task ready while the running task never called back
// into the kernel, and nothing else will notice until a checkpoint
// runs on the running task's own goroutine.
func (k *Kernel) checkpoint() {
	k.mu.Lock()
	k.maybeReschedule()
	k.mu.Unlock()
}

// dispatch runs fn under the kernel lock and checks for a pending
// reschedule afterward. It is the entry point Yield, Delay's enqueue
// half and SetPriority funnel through, the syscall-trampoline
// equivalent for this kernel.
func (k *Kernel) dispatch(svc int, fn func()) {
	k.mu.Lock()
	fn()
	k.maybeReschedule()
	k.mu.Unlock()
}

// taskTrampoline is the body of every task goroutine. It blocks until
// the scheduler first resumes this task, runs the task's entry point,
// and on return treats the task as having deleted itself — a task
// function returning is not an error, mirroring tasks that loop
// forever and simply never reach here.
func (k *Kernel) taskTrampoline(t *Task) {
	<-t.resumeCh
	t.entry(t.arg)
	k.taskExit(t)
}
