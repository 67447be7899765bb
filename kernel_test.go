package kernel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spin burns n Yield calls, the cooperative stand-in for a CPU-bound
// task that never blocks.
func spin(k *Kernel, n int) {
	for i := 0; i < n; i++ {
		k.Yield()
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxTasks = 8
	cfg.MaxPriority = 8
	cfg.TimeSliceTicks = 4
	return cfg
}

// runStarted launches k.Start on its own goroutine and returns a
// function that stops the kernel and waits for Start to return.
func runStarted(t *testing.T, k *Kernel) func() {
	t.Helper()
	startErr := make(chan error, 1)
	go func() { startErr <- k.Start() }()
	return func() {
		require.NoError(t, k.Stop())
		select {
		case err := <-startErr:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("kernel Start did not return after Stop")
		}
	}
}

func TestKernelTaskRunsAndYields(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	var count int32
	done := make(chan struct{})

	_, err = k.TaskCreate("counter", func(arg any) {
		for i := 0; i < 5; i++ {
			atomic.AddInt32(&count, 1)
			k.Yield()
		}
		close(done)
	}, nil, 0, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("counter task never finished")
	}
	assert.EqualValues(t, 5, atomic.LoadInt32(&count))
}

func TestKernelSemaphoreHandoff(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	sem, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	received := make(chan int, 1)
	_, err = k.TaskCreate("consumer", func(arg any) {
		err := sem.Wait(TimeoutForever)
		if err != nil {
			received <- -1
			return
		}
		received <- 42
	}, nil, 0, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("producer", func(arg any) {
		require.NoError(t, sem.Signal())
	}, nil, 1, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	select {
	case v := <-received:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestKernelQueueSendReceive(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	q, err := k.NewQueue(1, 4)
	require.NoError(t, err)

	result := make(chan uint32, 1)
	_, err = k.TaskCreate("receiver", func(arg any) {
		buf := make([]byte, 4)
		if err := q.Receive(buf, TimeoutForever); err != nil {
			result <- 0
			return
		}
		result <- uint32(buf[0])
	}, nil, 0, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("sender", func(arg any) {
		require.NoError(t, q.Send([]byte{7, 0, 0, 0}, TimeoutForever))
	}, nil, 1, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	select {
	case v := <-result:
		assert.EqualValues(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestKernelMutexMutualExclusion(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	m := k.NewMutex(false)
	order := make(chan string, 2)

	_, err = k.TaskCreate("a", func(arg any) {
		require.NoError(t, m.Lock(TimeoutForever))
		order <- "a-enter"
		k.Yield()
		order <- "a-exit"
		require.NoError(t, m.Unlock())
	}, nil, 0, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("b", func(arg any) {
		require.NoError(t, m.Lock(TimeoutForever))
		order <- "b-enter"
		require.NoError(t, m.Unlock())
	}, nil, 0, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	first := <-order
	second := <-order
	assert.Equal(t, "a-enter", first)
	assert.Equal(t, "a-exit", second)
}

func TestKernelDelayWakesAfterTicks(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	woke := make(chan uint64, 1)
	_, err = k.TaskCreate("sleeper", func(arg any) {
		k.Delay(3)
		woke <- k.GetTick()
	}, nil, 0, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	for i := 0; i < 3; i++ {
		k.Tick()
	}

	select {
	case tick := <-woke:
		assert.GreaterOrEqual(t, tick, uint64(3))
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestKernelEventGroupWaitAll(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	eg := k.NewEventGroup()
	observed := make(chan uint32, 1)

	_, err = k.TaskCreate("waiter", func(arg any) {
		val, err := eg.WaitFlags(0x3, true, true, TimeoutForever)
		if err != nil {
			observed <- 0
			return
		}
		observed <- val
	}, nil, 0, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("setter", func(arg any) {
		eg.SetFlags(0x1)
		k.Yield()
		eg.SetFlags(0x2)
	}, nil, 1, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	select {
	case v := <-observed:
		assert.Equal(t, uint32(0x3), v)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never satisfied")
	}
	assert.Equal(t, uint32(0), eg.GetFlags())
}

func TestKernelTaskCreateRejectsBadPriority(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	_, err = k.TaskCreate("bad", func(arg any) {}, nil, -1, 0)
	assert.ErrorIs(t, err, ErrParam)

	_, err = k.TaskCreate("bad", func(arg any) {}, nil, k.cfg.MaxPriority, 0)
	assert.ErrorIs(t, err, ErrParam)
}

// TestKernelMutexPriorityInheritance walks through the classic
// inversion scenario: a low-priority task holds the mutex, a mid-
// priority task monopolizes the CPU with no interest in the mutex at
// all, and a high-priority task blocks waiting for it. Without
// inheritance the mid task could starve the low task (and therefore
// the high task) indefinitely; with it, locking the mutex boosts the
// low task above the mid task for exactly as long as it takes to
// unlock.
func TestKernelMutexPriorityInheritance(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	m := k.NewMutex(false)
	mutexLocked, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)
	started, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	order := make(chan string, 8)

	const (
		prioHigh = 0
		prioMid  = 1
		prioLow  = 2
	)

	lowTask, err := k.TaskCreate("low", func(arg any) {
		require.NoError(t, m.Lock(TimeoutForever))
		order <- "low-locked"
		require.NoError(t, mutexLocked.Signal())

		order <- "low-about-to-unlock"
		require.NoError(t, m.Unlock())
		order <- "low-done"
	}, nil, prioLow, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("mid", func(arg any) {
		require.NoError(t, mutexLocked.Wait(TimeoutForever))

		spin(k, 50)
		require.NoError(t, started.Signal())
		spin(k, 50)

		order <- "mid-done"
	}, nil, prioMid, 0)
	require.NoError(t, err)

	_, err = k.TaskCreate("high", func(arg any) {
		require.NoError(t, started.Wait(TimeoutForever))
		require.NoError(t, m.Lock(TimeoutForever))
		order <- "high-acquired"
		require.NoError(t, m.Unlock())
		order <- "high-done"
	}, nil, prioHigh, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	want := []string{
		"low-locked",
		"low-about-to-unlock",
		"high-acquired",
		"high-done",
		"mid-done",
		"low-done",
	}
	for _, w := range want {
		select {
		case got := <-order:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
	assert.Equal(t, prioLow, lowTask.BasePriority())
	assert.Equal(t, prioLow, lowTask.Priority())
}

// TestKernelSchedulerLockDefersPreemption checks that a preemption
// opportunity arising while the scheduler is locked (here, resuming a
// higher-priority suspended task) takes effect only at the matching
// UnlockScheduler, not before.
func TestKernelSchedulerLockDefersPreemption(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	order := make(chan string, 4)

	high, err := k.TaskCreate("high", func(arg any) {
		order <- "high-ran"
	}, nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, k.TaskSuspend(high))

	_, err = k.TaskCreate("low", func(arg any) {
		k.LockScheduler()
		order <- "low-locked"
		require.NoError(t, k.TaskResume(high))
		order <- "low-after-resume"
		k.UnlockScheduler()
		order <- "low-after-unlock"
	}, nil, 1, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	first := <-order
	second := <-order
	third := <-order
	assert.Equal(t, "low-locked", first)
	assert.Equal(t, "low-after-resume", second)
	assert.Equal(t, "high-ran", third)
}

func TestKernelStartTwiceFails(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	// give Start's goroutine a chance to reach RUNNING before asserting
	// the second call is rejected; Start only returns via Stop.
	require.Eventually(t, func() bool {
		return k.State() == StateRunningKernel
	}, time.Second, 5*time.Millisecond)

	err = k.Start()
	assert.Error(t, err)
}

func TestSemaphoreUnboundedMaxNeverOverflows(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	sem, err := k.NewSemaphore(0, 0)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		require.NoError(t, sem.Signal())
	}
	assert.Equal(t, 1000, sem.Count())
}

func TestSemaphoreBoundedRejectsInitialAboveMax(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	_, err = k.NewSemaphore(5, 4)
	assert.ErrorIs(t, err, ErrParam)
}

func TestSemaphoreBoundedSignalOverflows(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	sem, err := k.NewSemaphore(1, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, sem.Signal(), ErrOverflow)
}

func TestKernelSemaphoreResetWakesWaiterWithErrState(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	sem, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	result := make(chan error, 1)
	waiter, err := k.TaskCreate("waiter", func(arg any) {
		result <- sem.Wait(TimeoutForever)
	}, nil, 0, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	require.Eventually(t, func() bool {
		return waiter.State() == StateBlocked
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sem.Reset(3))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrState)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke from Reset")
	}
	assert.Equal(t, 3, sem.Count())
}

func TestKernelQueueSendFrontJumpsAheadOfFIFO(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	q, err := k.NewQueue(4, 4)
	require.NoError(t, err)

	require.NoError(t, q.Send([]byte{1, 0, 0, 0}, TimeoutNone))
	require.NoError(t, q.Send([]byte{2, 0, 0, 0}, TimeoutNone))
	require.NoError(t, q.SendFront([]byte{9, 0, 0, 0}, TimeoutNone))

	buf := make([]byte, 4)
	require.NoError(t, q.Receive(buf, TimeoutNone))
	assert.EqualValues(t, 9, buf[0])
	require.NoError(t, q.Receive(buf, TimeoutNone))
	assert.EqualValues(t, 1, buf[0])
	require.NoError(t, q.Receive(buf, TimeoutNone))
	assert.EqualValues(t, 2, buf[0])
}

func TestKernelQueuePeekDoesNotConsume(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	q, err := k.NewQueue(2, 4)
	require.NoError(t, err)
	require.NoError(t, q.Send([]byte{5, 0, 0, 0}, TimeoutNone))

	buf := make([]byte, 4)
	require.NoError(t, q.Peek(buf, TimeoutNone))
	assert.EqualValues(t, 5, buf[0])
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.Receive(buf, TimeoutNone))
	assert.EqualValues(t, 5, buf[0])
	assert.Equal(t, 0, q.Len())
}

func TestKernelQueueIsEmptyIsFullSpace(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	q, err := k.NewQueue(2, 4)
	require.NoError(t, err)

	assert.True(t, q.IsEmpty())
	assert.False(t, q.IsFull())
	assert.Equal(t, 2, q.Space())

	require.NoError(t, q.SendISR([]byte{1, 0, 0, 0}))
	assert.False(t, q.IsEmpty())
	assert.False(t, q.IsFull())
	assert.Equal(t, 1, q.Space())

	require.NoError(t, q.SendISR([]byte{2, 0, 0, 0}))
	assert.True(t, q.IsFull())
	assert.Equal(t, 0, q.Space())
	assert.ErrorIs(t, q.SendISR([]byte{3, 0, 0, 0}), ErrOverflow)
}

func TestKernelQueueResetWakesBlockedSenderWithErrState(t *testing.T) {
	k, err := NewKernel(testConfig())
	require.NoError(t, err)

	q, err := k.NewQueue(1, 4)
	require.NoError(t, err)
	require.NoError(t, q.Send([]byte{1, 0, 0, 0}, TimeoutNone))

	sendResult := make(chan error, 1)
	sender, err := k.TaskCreate("sender", func(arg any) {
		sendResult <- q.Send([]byte{2, 0, 0, 0}, TimeoutForever)
	}, nil, 0, 0)
	require.NoError(t, err)

	stop := runStarted(t, k)
	defer stop()

	require.Eventually(t, func() bool {
		return sender.State() == StateBlocked
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Reset())

	select {
	case err := <-sendResult:
		assert.ErrorIs(t, err, ErrState)
	case <-time.After(2 * time.Second):
		t.Fatal("sender never woke from Reset")
	}
	assert.True(t, q.IsEmpty())
}
