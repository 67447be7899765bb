package kernel

// Mutex is a binary mutual-exclusion lock with optional priority
// inheritance: while a higher-priority task waits on a Mutex, the
// owner's effective priority is boosted to the waiter's so a
// lower-priority holder can't be starved by medium-priority tasks
// it never contends with (the classic priority-inversion fix).
//
// Inheritance here tracks a single saved priority per mutex rather
// than a full per-task held-mutex ceiling stack; a task holding two
// mutexes simultaneously, each boosted by a different waiter, restores
// to its base priority rather than the next-highest ceiling when the
// first of them unlocks. Documented as a known simplification (DESIGN.md);
// the common single-mutex-per-critical-section usage this kernel
// targets never exercises the gap.
type Mutex struct {
	k         *Kernel
	recursive bool

	owner         *Task
	lockCount     int
	savedPriority int
	boosted       bool
}

// NewMutex creates an unlocked mutex. If recursive is true, the owning
// task may lock it again without deadlocking itself; each Lock must be
// matched by an Unlock.
func (k *Kernel) NewMutex(recursive bool) *Mutex {
	return &Mutex{k: k, recursive: recursive}
}

// Lock blocks the calling task until the mutex is free, then takes
// ownership. timeout follows the TimeoutNone/TimeoutForever convention.
func (m *Mutex) Lock(timeout uint32) error {
	k := m.k
	self := k.GetCurrent()

	k.mu.Lock()
	if m.owner == nil {
		m.owner = self
		m.lockCount = 1
		k.mu.Unlock()
		return nil
	}
	if m.owner == self {
		if !m.recursive {
			k.mu.Unlock()
			return ErrState
		}
		m.lockCount++
		k.mu.Unlock()
		return nil
	}
	if timeout == TimeoutNone {
		k.mu.Unlock()
		return ErrTimeout
	}
	if k.inISR {
		k.mu.Unlock()
		return ErrISR
	}

	if k.cfg.PriorityInheritance && self.priority < m.owner.priority {
		if !m.boosted {
			m.savedPriority = m.owner.priority
			m.boosted = true
		}
		k.sched.setPriority(m.owner, self.priority)
	}

	k.sched.blockCurrent(BlockMutex, m, timeout)
	k.reschedule()
	k.mu.Unlock()

	return self.blockResult
}

// TryLock attempts to take the mutex without blocking.
func (m *Mutex) TryLock() bool {
	err := m.Lock(TimeoutNone)
	return err == nil
}

// Unlock releases the mutex. It is an error for a task other than the
// current owner to call Unlock.
func (m *Mutex) Unlock() error {
	k := m.k
	self := k.GetCurrent()

	k.mu.Lock()
	defer k.mu.Unlock()

	if m.owner != self {
		return ErrState
	}
	m.lockCount--
	if m.lockCount > 0 {
		return nil
	}

	if m.boosted {
		k.sched.setPriority(m.owner, m.owner.basePriority)
		m.boosted = false
	}
	m.owner = nil

	// Ownership passes directly to the woken waiter rather than being
	// cleared for a contended re-lock: Lock never re-validates after
	// waking, it trusts blockResult. A waiter only resumes once the
	// scheduler has actually switched to it, so no third task can run
	// its own Lock in between and steal the mutex out from under the
	// hand-off.
	woken, _ := k.sched.unblockOne(BlockMutex, m, nil)
	if woken != nil {
		m.owner = woken
		m.lockCount = 1
		k.maybeReschedule()
	}
	return nil
}

// Owner returns the task currently holding the mutex, or nil.
func (m *Mutex) Owner() *Task {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.owner
}
