package kernel

// Scheduler holds the ready/blocked bookkeeping and priority selection
// logic. It performs no I/O and takes no lock itself: Kernel serializes
// every call through its own critical section the same way a
// single-core kernel wraps each of these in enter/exit-critical calls.
// Methods here report whether a switch should be triggered. Kernel
// reads only unlock's report; everywhere else it calls reschedule,
// which switches to the highest-priority ready task whatever the
// report said.
type Scheduler struct {
	cfg     Config
	ready   *readyQueues
	blocked blockedSet

	running *Task

	lockCount         int
	reschedulePending bool

	tick uint64
}

func newScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		ready: newReadyQueues(cfg.MaxPriority),
	}
}

// addTask makes t Ready and inserts it at the tail of its priority
// level. Reports whether a currently running task should be preempted.
func (s *Scheduler) addTask(t *Task) (preempt bool) {
	t.state = StateReady
	t.timeSlice = s.cfg.TimeSliceTicks
	s.ready.insertTail(t)
	t.membership = memReady

	return s.cfg.Preemptive && s.running != nil && t.priority < s.running.priority
}

// removeTask unlinks t from whichever list currently holds it. It does
// not change t.state; callers own that transition.
func (s *Scheduler) removeTask(t *Task) {
	switch t.membership {
	case memReady:
		s.ready.remove(t)
	case memBlocked:
		s.blocked.remove(t)
	}
	t.membership = memNone
}

// setPriority updates t's priority, re-homing it in the ready
// structure if it is currently ready or running. Reports whether a
// switch should be triggered (the new placement may now outrank the
// running task, or t itself may have just lost its edge).
func (s *Scheduler) setPriority(t *Task, newPriority int) (preempt bool) {
	if t.state == StateReady || t.state == StateRunning {
		wasRunning := t == s.running
		s.removeTask(t)
		t.priority = newPriority
		if wasRunning {
			// the running task keeps running; it is re-homed as the
			// head of its new priority's ready list (I3) and only
			// preempted if something else now outranks it.
			t.state = StateRunning
			r := s.ready
			t.prev = nil
			t.next = r.lists[newPriority]
			if t.next != nil {
				t.next.prev = t
			}
			r.lists[newPriority] = t
			r.bitmap |= 1 << uint(newPriority)
			t.membership = memReady
			return s.cfg.Preemptive && s.ready.highest() < t.priority
		}
		return s.addTask(t)
	}
	t.priority = newPriority
	return false
}

// yield rotates the running task to the tail of its priority's ready
// list (when peers exist) and requests a switch. If the scheduler is
// locked it only records a pending reschedule. Reports whether a
// switch should happen now.
func (s *Scheduler) yield() (doSwitch bool) {
	if s.running == nil {
		return false
	}
	if s.lockCount > 0 {
		s.reschedulePending = true
		return false
	}

	p := s.running.priority
	head := s.ready.head(p)
	if head != nil && head.next != nil && head == s.running {
		s.ready.remove(head)
		s.ready.insertTail(head)
	}
	return true
}

// onTick advances the tick counter, wakes any blocked tasks whose
// deadline has arrived, charges the running task's time slice, and
// reports whether a switch should be triggered.
func (s *Scheduler) onTick() (doSwitch bool) {
	s.tick++

	iter := s.blocked.head
	for iter != nil {
		next := iter.next
		wake := false
		var result error

		if iter.blockReason == BlockDelay {
			if iter.wakeTick != wakeNever && s.tick >= iter.wakeTick {
				wake = true
				result = nil
			}
		} else if iter.wakeTick != wakeNever && s.tick >= iter.wakeTick {
			wake = true
			result = ErrTimeout
		}

		if wake {
			s.blocked.remove(iter)
			iter.blockReason = BlockNone
			iter.blockObject = nil
			iter.blockResult = result
			iter.state = StateReady
			s.ready.insertTail(iter)
			iter.membership = memReady
		}
		iter = next
	}

	sliceExpired := false
	if s.running != nil {
		if s.running.timeSlice > 0 {
			s.running.timeSlice--
		}
		s.running.totalTicks++
		if s.cfg.RoundRobin && s.running.timeSlice == 0 {
			s.running.timeSlice = s.cfg.TimeSliceTicks
			sliceExpired = s.yield()
		}
	}

	highest := s.ready.highest()
	preempt := s.cfg.Preemptive && s.running != nil && highest < s.running.priority

	return sliceExpired || preempt
}

// blockCurrent removes the running task from the ready structure,
// marks it Blocked with the given reason/object/deadline, and inserts
// it into the blocked set. It does not perform the actual goroutine
// handoff; the caller follows it with a reschedule (context.go), still
// holding k.mu.
func (s *Scheduler) blockCurrent(reason BlockReason, object any, timeout uint32) *Task {
	self := s.running
	if self == nil {
		return nil
	}

	s.removeTask(self)
	self.state = StateBlocked
	self.blockReason = reason
	self.blockObject = object
	self.blockResult = nil

	switch timeout {
	case TimeoutNone:
		self.wakeTick = s.tick + 1
	case TimeoutForever:
		self.wakeTick = wakeNever
	default:
		self.wakeTick = s.tick + uint64(timeout)
	}

	s.blocked.insert(self)
	self.membership = memBlocked
	return self
}

// unblockTask moves t from the blocked set to the tail of its
// priority's ready list and records result as its block outcome.
// Reports whether a switch should be triggered.
func (s *Scheduler) unblockTask(t *Task, result error) (preempt bool) {
	if t == nil || t.state != StateBlocked {
		return false
	}
	s.blocked.remove(t)
	t.state = StateReady
	t.blockReason = BlockNone
	t.blockObject = nil
	t.blockResult = result
	s.ready.insertTail(t)
	t.membership = memReady

	return s.cfg.Preemptive && s.running != nil && t.priority < s.running.priority
}

// unblockOne wakes the highest-priority task blocked on (reason,
// object), breaking ties by arrival order. Reports the woken task (nil
// if none matched) and whether a switch should be triggered.
func (s *Scheduler) unblockOne(reason BlockReason, object any, result error) (woken *Task, preempt bool) {
	best := s.blocked.findBestMatch(reason, object)
	if best == nil {
		return nil, false
	}
	preempt = s.unblockTask(best, result)
	return best, preempt
}

// unblockAll wakes every task blocked on (reason, object). Reports the
// count woken and whether a switch should be triggered.
func (s *Scheduler) unblockAll(reason BlockReason, object any, result error) (count int, preempt bool) {
	var woken []*Task
	s.blocked.forEachMatch(reason, object, func(t *Task) {
		woken = append(woken, t)
	})
	for _, t := range woken {
		if s.unblockTask(t, result) {
			preempt = true
		}
	}
	return len(woken), preempt
}

// unblockAllFunc wakes every task blocked on (reason, object) for
// which pred returns true, the event-group variant of unblockAll where
// each waiter has its own satisfaction condition rather than sharing
// one outcome.
func (s *Scheduler) unblockAllFunc(reason BlockReason, object any, pred func(*Task) bool, result error) (count int, preempt bool) {
	var woken []*Task
	s.blocked.forEachMatch(reason, object, func(t *Task) {
		if pred(t) {
			woken = append(woken, t)
		}
	})
	for _, t := range woken {
		if s.unblockTask(t, result) {
			preempt = true
		}
	}
	return len(woken), preempt
}

// next returns the highest-priority ready task without modifying any
// state (scheduler_get_next / scheduler_select_next_task).
func (s *Scheduler) next() *Task {
	p := s.ready.highest()
	if p >= s.cfg.MaxPriority {
		return nil
	}
	return s.ready.head(p)
}

// lock increments the preemption-lock nesting count. Interrupts
// (ISR-simulated calls) remain able to enter the critical section and
// unblock tasks; they just can't force an immediate switch.
func (s *Scheduler) lock() {
	s.lockCount++
}

// unlock decrements the nesting count and reports whether a pending
// reschedule should now be honored.
func (s *Scheduler) unlock() (doSwitch bool) {
	if s.lockCount > 0 {
		s.lockCount--
	}
	if s.lockCount == 0 && s.reschedulePending {
		s.reschedulePending = false
		return true
	}
	return false
}

func (s *Scheduler) isLocked() bool {
	return s.lockCount > 0
}

func (s *Scheduler) tickCount() uint64 {
	return s.tick
}
