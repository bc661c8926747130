package concurrency_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
)

func tryLockElsewhere(m *concurrency.Mutex) bool {
	res := make(chan bool, 1)
	go func() {
		ok, _ := m.TryLock()
		if ok {
			_ = m.Unlock()
		}
		res <- ok
	}()
	return <-res
}

func TestRecursiveMutexNeedsMatchingUnlocks(t *testing.T) {
	m := concurrency.NewMutex(concurrency.MutexRecursive)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Lock())
	}
	ok, err := m.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, m.Holds())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Unlock())
		assert.False(t, tryLockElsewhere(m), "released after %d unlocks", i+1)
	}
	require.NoError(t, m.Unlock())
	assert.True(t, tryLockElsewhere(m))
}

func TestErrorCheckMutexRelockFails(t *testing.T) {
	rec := report.NewRecorder()
	defer report.SetReporter(rec)()

	m := concurrency.NewMutex(concurrency.MutexErrorCheck)
	require.NoError(t, m.Lock())
	err := m.Lock()
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrDeadlock))
	assert.True(t, api.IsMisuse(err))
	assert.Len(t, rec.Fatals(), 1)
	var e *api.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "mutex.go", e.File)

	ok, err := m.TryLock()
	assert.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.Unlock())
}

func TestFastMutexTryLockHeldBySelf(t *testing.T) {
	m := concurrency.NewMutex(concurrency.MutexFast)
	require.NoError(t, m.Lock())
	ok, err := m.TryLock()
	assert.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.Unlock())
}

func TestMutexUnlockByNonOwner(t *testing.T) {
	rec := report.NewRecorder()
	defer report.SetReporter(rec)()

	m := concurrency.NewMutex(concurrency.MutexErrorCheck)
	assert.ErrorIs(t, m.Unlock(), api.ErrNotOwner)

	require.NoError(t, m.Lock())
	errc := make(chan error, 1)
	go func() { errc <- m.Unlock() }()
	assert.ErrorIs(t, <-errc, api.ErrNotOwner)
	require.NoError(t, m.Unlock())
}

func TestMutexMutualExclusion(t *testing.T) {
	m := concurrency.NewMutex(concurrency.MutexFast)
	var counter int
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if err := m.Lock(); err != nil {
					t.Error(err)
					return
				}
				counter++
				if err := m.Unlock(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8*500, counter)
}

func TestMutexCloseWaitsForHolder(t *testing.T) {
	rec := report.NewRecorder()
	defer report.SetReporter(rec)()

	m := concurrency.NewMutex(concurrency.MutexRecursive)
	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.Lock()
		close(locked)
		<-release
		_ = m.Unlock()
	}()
	<-locked

	closed := make(chan struct{})
	go func() {
		_ = m.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while the mutex was held")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after unlock")
	}

	assert.ErrorIs(t, m.Lock(), api.ErrMutexClosed)
	_, err := m.TryLock()
	assert.ErrorIs(t, err, api.ErrMutexClosed)
	assert.NoError(t, m.Close())
}
