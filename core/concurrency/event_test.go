package concurrency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/core/concurrency"
)

func TestEventAutoResetBoolean(t *testing.T) {
	ev := concurrency.NewEvent()
	assert.False(t, ev.Wait(10*time.Millisecond))

	ev.Signal()
	ev.Signal() // already signalled, no extra unit
	assert.Equal(t, uint64(1), ev.State())
	assert.True(t, ev.Wait(10*time.Millisecond))
	assert.False(t, ev.Wait(10*time.Millisecond))
	assert.Equal(t, uint64(0), ev.State())
}

func TestEventCounting(t *testing.T) {
	ev := concurrency.NewEvent(concurrency.WithCounting(), concurrency.WithInitialState(2))
	ev.Signal()
	assert.Equal(t, uint64(3), ev.State())

	assert.True(t, ev.Wait(0))
	assert.Equal(t, uint64(2), ev.State())

	ev.Unsignal()
	ev.Unsignal()
	ev.Unsignal()
	assert.Equal(t, uint64(0), ev.State(), "count must floor at zero")

	ev.Signal()
	ev.Signal()
	ev.Reset()
	assert.Equal(t, uint64(0), ev.State())
	assert.False(t, ev.Wait(5*time.Millisecond))
}

func TestEventManualResetReleasesAllWaiters(t *testing.T) {
	ev := concurrency.NewEvent(concurrency.WithManualReset())

	const waiters = 5
	var released atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ev.Wait(2 * time.Second) {
				released.Add(1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	ev.Signal()
	wg.Wait()

	assert.Equal(t, int32(waiters), released.Load())
	assert.Equal(t, uint64(1), ev.State(), "manual reset keeps the state")
	assert.True(t, ev.Wait(time.Millisecond))

	ev.Unsignal()
	assert.False(t, ev.Wait(5*time.Millisecond))
}

func TestEventWaitTimesOut(t *testing.T) {
	ev := concurrency.NewEvent()
	start := time.Now()
	assert.False(t, ev.Wait(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestEventWaitWokenBySignal(t *testing.T) {
	ev := concurrency.NewEvent()
	got := make(chan bool, 1)
	go func() { got <- ev.Wait(0) }()

	time.Sleep(10 * time.Millisecond)
	ev.Signal()
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestEventWaitContext(t *testing.T) {
	ev := concurrency.NewEvent()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.False(t, ev.WaitContext(ctx))

	ev.Signal()
	assert.True(t, ev.WaitContext(context.Background()))
}

func TestEventSuccessfulWaitsNeverExceedSignals(t *testing.T) {
	ev := concurrency.NewEvent()
	const signals = 200

	var successes atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if ev.Wait(2 * time.Millisecond) {
					successes.Add(1)
				}
			}
		}()
	}
	for i := 0; i < signals; i++ {
		ev.Signal()
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	n := successes.Load()
	assert.LessOrEqual(t, n, int64(signals))
	assert.Positive(t, n)
}

func TestEventCountingConcurrent(t *testing.T) {
	ev := concurrency.NewEvent(concurrency.WithCounting())
	const n = 500

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			ev.Signal()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n/2; i++ {
			ev.Unsignal()
		}
	}()
	var waited atomic.Int64
	go func() {
		defer wg.Done()
		for i := 0; i < n/4; i++ {
			if ev.Wait(time.Millisecond) {
				waited.Add(1)
			}
		}
	}()
	wg.Wait()

	// unsignal floors at zero, so the final count can only be higher than
	// the arithmetic difference, never negative
	state := ev.State()
	require.LessOrEqual(t, int64(state)+waited.Load(), int64(n))
	for ev.Wait(time.Millisecond) {
	}
	assert.Equal(t, uint64(0), ev.State())
}
