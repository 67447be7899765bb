package kernel

// EventGroup holds a 32-bit field of application-defined flags.
// WaitFlags can block for any-of or all-of a mask; SetFlags/ClearFlags
// never block and are safe to call from Tick/ISR context.
type EventGroup struct {
	k     *Kernel
	flags uint32
}

// NewEventGroup creates an event group with all flags initially clear.
func (k *Kernel) NewEventGroup() *EventGroup {
	return &EventGroup{k: k}
}

// WaitFlags blocks the calling task until mask is satisfied: any bit
// of mask is set if waitAll is false, or every bit of mask is set if
// waitAll is true. If clearOnExit is true, the satisfied bits are
// cleared before returning. Returns the flag value observed at the
// moment the wait was satisfied.
func (g *EventGroup) WaitFlags(mask uint32, waitAll, clearOnExit bool, timeout uint32) (uint32, error) {
	k := g.k
	self := k.GetCurrent()

	k.mu.Lock()
	for {
		if satisfied(g.flags, mask, waitAll) {
			observed := g.flags
			if clearOnExit {
				g.flags &^= mask
			}
			k.mu.Unlock()
			return observed, nil
		}
		if timeout == TimeoutNone {
			k.mu.Unlock()
			return g.flags, ErrTimeout
		}
		if k.inISR {
			k.mu.Unlock()
			return g.flags, ErrISR
		}

		self.eventWant = mask
		self.eventWaitAll = waitAll
		k.sched.blockCurrent(BlockEvent, g, timeout)
		k.reschedule()
		if self.blockResult != nil {
			err := self.blockResult
			k.mu.Unlock()
			return g.flags, err
		}
		if satisfied(g.flags, mask, waitAll) {
			observed := g.flags
			if clearOnExit {
				g.flags &^= mask
			}
			k.mu.Unlock()
			return observed, nil
		}
		// SetFlags only wakes a waiter whose mask was satisfied, but
		// another waiter's clearOnExit or a ClearFlags may have cleared
		// those bits before this task ran: loop and re-check.
	}
}

func satisfied(flags, mask uint32, waitAll bool) bool {
	if mask == 0 {
		return true
	}
	if waitAll {
		return flags&mask == mask
	}
	return flags&mask != 0
}

// SetFlags ORs bits into the group and wakes every waiter whose
// condition is now satisfied.
func (g *EventGroup) SetFlags(mask uint32) {
	k := g.k
	k.mu.Lock()
	defer k.mu.Unlock()

	g.flags |= mask

	k.sched.unblockAllFunc(BlockEvent, g, func(t *Task) bool {
		return satisfied(g.flags, t.eventWant, t.eventWaitAll)
	}, nil)

	k.maybeReschedule()
}

// ClearFlags clears bits in the group. It never unblocks waiters:
// clearing a condition can't newly satisfy one.
func (g *EventGroup) ClearFlags(mask uint32) {
	k := g.k
	k.mu.Lock()
	defer k.mu.Unlock()
	g.flags &^= mask
}

// GetFlags returns the current flag value.
func (g *EventGroup) GetFlags() uint32 {
	g.k.mu.Lock()
	defer g.k.mu.Unlock()
	return g.flags
}
