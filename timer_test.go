package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPoolOneShotFiresOnce(t *testing.T) {
	p := newTimerPool(4)
	fired := 0
	tm := &Timer{
		k:           nil,
		callback:    func(arg any) { fired++ },
		periodic:    false,
		periodTicks: 3,
	}
	p.timers[0] = tm
	p.free[0] = false
	tm.remaining = tm.periodTicks
	tm.active = true

	p.onTick(nil)
	p.onTick(nil)
	assert.Equal(t, 0, fired)
	p.onTick(nil)
	assert.Equal(t, 1, fired)

	p.onTick(nil)
	p.onTick(nil)
	p.onTick(nil)
	assert.Equal(t, 1, fired, "one-shot timer must not reload")
	assert.False(t, tm.active)
}

func TestTimerPoolPeriodicReloads(t *testing.T) {
	p := newTimerPool(4)
	fired := 0
	tm := &Timer{
		callback:    func(arg any) { fired++ },
		periodic:    true,
		periodTicks: 2,
	}
	p.timers[0] = tm
	p.free[0] = false
	tm.remaining = tm.periodTicks
	tm.active = true

	for i := 0; i < 6; i++ {
		p.onTick(nil)
	}
	assert.Equal(t, 3, fired)
	assert.True(t, tm.active)
}

func TestTimerPoolStopSuppressesReload(t *testing.T) {
	p := newTimerPool(4)
	fired := 0
	tm := &Timer{
		k:           nil,
		callback:    func(arg any) { fired++ },
		periodic:    true,
		periodTicks: 2,
	}
	p.timers[0] = tm
	p.free[0] = false
	tm.remaining = tm.periodTicks
	tm.active = true

	p.onTick(nil)
	p.onTick(nil)
	assert.Equal(t, 1, fired)

	tm.active = false
	for i := 0; i < 4; i++ {
		p.onTick(nil)
	}
	assert.Equal(t, 1, fired, "a stopped timer must not fire again")
}

func TestKernelNewTimerFiresFromTick(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	fired := make(chan int, 4)
	n := 0
	tm, err := k.NewTimer("heartbeat", 2, true, func(arg any) {
		n++
		fired <- n
	}, nil)
	require.NoError(t, err)
	tm.Start()

	for i := 0; i < 5; i++ {
		k.Tick()
	}

	assert.Equal(t, 1, <-fired)
	assert.Equal(t, 2, <-fired)
	assert.Len(t, fired, 0)
}

func TestKernelTimerStopPreventsFurtherFires(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	fired := 0
	tm, err := k.NewTimer("once", 2, false, func(arg any) { fired++ }, nil)
	require.NoError(t, err)
	tm.Start()

	k.Tick()
	tm.Stop()
	for i := 0; i < 4; i++ {
		k.Tick()
	}
	assert.Equal(t, 0, fired)
}

func TestKernelNewTimerRejectsBadParams(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	_, err = k.NewTimer("bad", 0, false, func(arg any) {}, nil)
	assert.ErrorIs(t, err, ErrParam)

	_, err = k.NewTimer("bad", 5, false, nil, nil)
	assert.ErrorIs(t, err, ErrParam)
}

func TestKernelNewTimerExhaustsPool(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSoftwareTimers = 1
	k, err := NewKernel(cfg)
	require.NoError(t, err)

	_, err = k.NewTimer("a", 5, false, func(arg any) {}, nil)
	require.NoError(t, err)

	_, err = k.NewTimer("b", 5, false, func(arg any) {}, nil)
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestKernelNewTimerDisabledRejects(t *testing.T) {
	cfg := testConfig()
	cfg.SoftwareTimersEnabled = false
	k, err := NewKernel(cfg)
	require.NoError(t, err)

	_, err = k.NewTimer("a", 5, false, func(arg any) {}, nil)
	assert.ErrorIs(t, err, ErrState)
}
