package kernel

// Semaphore is a counting semaphore: Signal never blocks, Wait blocks
// the calling task when the count is zero.
type Semaphore struct {
	k     *Kernel
	count int
	max   int
}

// NewSemaphore creates a semaphore with the given initial count and
// optional maximum. max <= 0 means unbounded above: Signal never fails
// with ErrOverflow. Otherwise initial must not exceed max.
func (k *Kernel) NewSemaphore(initial, max int) (*Semaphore, error) {
	if initial < 0 {
		return nil, ErrParam
	}
	if max > 0 && initial > max {
		return nil, ErrParam
	}
	return &Semaphore{k: k, count: initial, max: max}, nil
}

// Wait blocks the calling task until the count is non-zero, then
// decrements it. timeout follows the TimeoutNone/TimeoutForever
// convention.
func (s *Semaphore) Wait(timeout uint32) error {
	k := s.k
	self := k.GetCurrent()

	k.mu.Lock()
	if s.count > 0 {
		s.count--
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

	k.sched.blockCurrent(BlockSemaphore, s, timeout)
	k.reschedule()
	k.mu.Unlock()

	return self.blockResult
}

// TryWait attempts to decrement without blocking.
func (s *Semaphore) TryWait() bool {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Signal increments the count, or wakes the highest-priority waiter if
// one exists, without ever blocking the caller (safe from ISR context).
func (s *Semaphore) Signal() error {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()

	woken, _ := k.sched.unblockOne(BlockSemaphore, s, nil)
	if woken != nil {
		k.maybeReschedule()
		return nil
	}

	if s.max > 0 && s.count >= s.max {
		return ErrOverflow
	}
	s.count++
	return nil
}

// Reset assigns newCount as the semaphore's current count and wakes
// every current waiter with ErrState, the same way deleting or
// reinitializing a primitive out from under blocked callers does.
func (s *Semaphore) Reset(newCount int) error {
	k := s.k
	if newCount < 0 || (s.max > 0 && newCount > s.max) {
		return ErrParam
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	s.count = newCount
	k.sched.unblockAll(BlockSemaphore, s, ErrState)
	k.maybeReschedule()
	return nil
}

// Count returns the current count (diagnostic, not part of the
// blocking protocol).
func (s *Semaphore) Count() int {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.count
}
