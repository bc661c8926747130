// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"time"

	"github.com/momentics/hioload-core/api"
	internal "github.com/momentics/hioload-core/internal/concurrency"
)

// MutexKind selects the re-entrancy policy of a Mutex.
type MutexKind int

const (
	// MutexFast: relocking by the owner blocks forever.
	MutexFast MutexKind = iota
	// MutexErrorCheck: relocking by the owner fails with ErrDeadlock.
	MutexErrorCheck
	// MutexRecursive: relocking by the owner increments a hold count.
	MutexRecursive
)

func (k MutexKind) String() string {
	switch k {
	case MutexFast:
		return "fast"
	case MutexErrorCheck:
		return "error_check"
	case MutexRecursive:
		return "recursive"
	default:
		return "unknown"
	}
}

// closeRetryInterval is the delay between attempts to destroy a held mutex.
const closeRetryInterval = 10 * time.Millisecond

// Mutex is a lock owned by a goroutine, with a policy for relocking by the owner.
//
// The lock itself is a one-slot token channel; meta guards the owner
// bookkeeping and is never held while blocking on the token.
type Mutex struct {
	kind   MutexKind
	token  chan struct{}
	closed chan struct{}

	meta      sync.Mutex
	owner     uint64
	holds     int
	destroyed bool
}

// NewMutex creates an unlocked mutex of the given kind.
func NewMutex(kind MutexKind) *Mutex {
	return &Mutex{
		kind:   kind,
		token:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Kind returns the re-entrancy policy.
func (m *Mutex) Kind() MutexKind { return m.kind }

// Lock acquires the mutex, blocking while another goroutine holds it.
func (m *Mutex) Lock() error {
	gid := internal.GoroutineID()

	m.meta.Lock()
	if m.destroyed {
		m.meta.Unlock()
		return misuse("Mutex.Lock", api.ErrMutexClosed, "lock on destroyed mutex")
	}
	if m.holds > 0 && m.owner == gid {
		switch m.kind {
		case MutexRecursive:
			m.holds++
			m.meta.Unlock()
			return nil
		case MutexErrorCheck:
			m.meta.Unlock()
			return misuse("Mutex.Lock", api.ErrDeadlock, "relock by owning goroutine")
		}
		// fast mutex: fall through and block on our own token
	}
	m.meta.Unlock()

	select {
	case m.token <- struct{}{}:
	case <-m.closed:
		return misuse("Mutex.Lock", api.ErrMutexClosed, "mutex destroyed while waiting")
	}

	m.meta.Lock()
	m.owner = gid
	m.holds = 1
	m.meta.Unlock()
	return nil
}

// TryLock acquires the mutex if it is free. Being held is not an error.
func (m *Mutex) TryLock() (bool, error) {
	gid := internal.GoroutineID()

	m.meta.Lock()
	defer m.meta.Unlock()
	if m.destroyed {
		return false, misuse("Mutex.TryLock", api.ErrMutexClosed, "trylock on destroyed mutex")
	}
	if m.holds > 0 && m.owner == gid && m.kind == MutexRecursive {
		m.holds++
		return true, nil
	}
	select {
	case m.token <- struct{}{}:
		m.owner = gid
		m.holds = 1
		return true, nil
	default:
		return false, nil
	}
}

// Unlock releases one hold. Error-check and recursive mutexes reject
// unlocking by a goroutine other than the owner.
func (m *Mutex) Unlock() error {
	gid := internal.GoroutineID()

	m.meta.Lock()
	defer m.meta.Unlock()
	if m.holds == 0 {
		return misuse("Mutex.Unlock", api.ErrNotOwner, "unlock of unlocked mutex")
	}
	if m.kind != MutexFast && m.owner != gid {
		return misuse("Mutex.Unlock", api.ErrNotOwner, "unlock by non-owning goroutine")
	}
	m.holds--
	if m.holds == 0 {
		m.owner = 0
		<-m.token
	}
	return nil
}

// Holds returns the current hold count (0 when unlocked).
func (m *Mutex) Holds() int {
	m.meta.Lock()
	defer m.meta.Unlock()
	return m.holds
}

// Close destroys the mutex. While another goroutine holds it, Close retries
// every 10ms. Closing twice is a no-op.
func (m *Mutex) Close() error {
	for {
		m.meta.Lock()
		if m.destroyed {
			m.meta.Unlock()
			return nil
		}
		select {
		case m.token <- struct{}{}:
			m.destroyed = true
			close(m.closed)
			m.meta.Unlock()
			return nil
		default:
		}
		m.meta.Unlock()
		time.Sleep(closeRetryInterval)
	}
}
