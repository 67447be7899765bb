package kernel

// Timer is a software timer driven from the tick path: it has no
// thread of its own, its callback runs synchronously from Tick's
// caller the way a tick ISR would call callbacks directly from
// interrupt context. A callback must not block.
type Timer struct {
	k        *Kernel
	name     string
	callback func(arg any)
	arg      any
	periodic bool

	periodTicks uint32
	remaining   uint32
	active      bool
	poolSlot    int
}

// timerPool is the fixed-size table of software timers a Kernel owns
// when Config.SoftwareTimersEnabled is set.
type timerPool struct {
	timers []*Timer
	free   []bool
}

func newTimerPool(capacity int) *timerPool {
	return &timerPool{
		timers: make([]*Timer, capacity),
		free:   makeAllTrue(capacity),
	}
}

func makeAllTrue(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

// NewTimer allocates a timer from the kernel's fixed pool. It starts
// inactive; call Start to arm it.
func (k *Kernel) NewTimer(name string, periodTicks uint32, periodic bool, callback func(arg any), arg any) (*Timer, error) {
	if k.timers == nil {
		return nil, ErrState
	}
	if periodTicks == 0 || callback == nil {
		return nil, ErrParam
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	slot := -1
	for i, free := range k.timers.free {
		if free {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, ErrNoMem
	}

	t := &Timer{
		k:           k,
		name:        name,
		callback:    callback,
		arg:         arg,
		periodic:    periodic,
		periodTicks: periodTicks,
		poolSlot:    slot,
	}
	k.timers.free[slot] = false
	k.timers.timers[slot] = t
	return t, nil
}

// Start (re)arms the timer, loading its countdown from periodTicks.
func (t *Timer) Start() {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	t.remaining = t.periodTicks
	t.active = true
}

// Stop disarms t; its callback will not fire again until Start is called.
func (t *Timer) Stop() {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	t.active = false
}

// Delete returns t's slot to the pool. t must not be started again
// after this.
func (t *Timer) Delete() {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	t.active = false
	t.k.timers.free[t.poolSlot] = true
	t.k.timers.timers[t.poolSlot] = nil
}

// onTick decrements every active timer and fires callbacks whose
// countdown reached zero, reloading periodic timers. Called with
// k.mu held, from Kernel.Tick.
func (p *timerPool) onTick(k *Kernel) {
	for _, t := range p.timers {
		if t == nil || !t.active {
			continue
		}
		if t.remaining == 0 {
			continue
		}
		t.remaining--
		if t.remaining == 0 {
			t.callback(t.arg)
			if t.periodic && t.active {
				t.remaining = t.periodTicks
			} else {
				t.active = false
			}
		}
	}
}
