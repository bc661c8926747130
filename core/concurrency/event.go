// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"
	"time"
)

// eventState is the live interpretation of an Event's value.
type eventState interface {
	set() bool
	signal() eventState
	unsignal() eventState
	consume() eventState
	clear() eventState
	value() uint64
}

type boolState bool

func (s boolState) set() bool            { return bool(s) }
func (s boolState) signal() eventState   { return boolState(true) }
func (s boolState) unsignal() eventState { return boolState(false) }
func (s boolState) consume() eventState  { return boolState(false) }
func (s boolState) clear() eventState    { return boolState(false) }
func (s boolState) value() uint64 {
	if s {
		return 1
	}
	return 0
}

type countState uint64

func (s countState) set() bool          { return s > 0 }
func (s countState) signal() eventState { return s + 1 }
func (s countState) unsignal() eventState {
	if s == 0 {
		return s
	}
	return s - 1
}
func (s countState) consume() eventState { return s.unsignal() }
func (s countState) clear() eventState   { return countState(0) }
func (s countState) value() uint64       { return uint64(s) }

// EventOption configures an Event.
type EventOption func(*eventConfig)

type eventConfig struct {
	counting bool
	manual   bool
	initial  uint64
}

// WithCounting makes the event a counting event.
func WithCounting() EventOption {
	return func(c *eventConfig) { c.counting = true }
}

// WithManualReset disables consumption on successful waits.
func WithManualReset() EventOption {
	return func(c *eventConfig) { c.manual = true }
}

// WithInitialState sets the initial value. Boolean events treat any
// non-zero value as signalled.
func WithInitialState(n uint64) EventOption {
	return func(c *eventConfig) { c.initial = n }
}

// Event is a boolean or counting synchronization event with auto or manual reset.
//
// Waiters park on a broadcast channel that is closed and replaced on every
// effective signal; each wake re-checks the state under the lock.
type Event struct {
	mu     sync.Mutex
	state  eventState
	manual bool
	wake   chan struct{}
}

// NewEvent creates an auto-reset boolean event unless options say otherwise.
func NewEvent(opts ...EventOption) *Event {
	var cfg eventConfig
	for _, o := range opts {
		o(&cfg)
	}
	e := &Event{manual: cfg.manual, wake: make(chan struct{})}
	if cfg.counting {
		e.state = countState(cfg.initial)
	} else {
		e.state = boolState(cfg.initial > 0)
	}
	return e
}

// Signal raises the event and wakes waiters. For boolean events only an
// unsignalled to signalled transition wakes anyone.
func (e *Event) Signal() {
	e.mu.Lock()
	was := e.state.set()
	e.state = e.state.signal()
	if _, isBool := e.state.(boolState); !isBool || !was {
		e.broadcastLocked()
	}
	e.mu.Unlock()
}

// Unsignal clears a boolean event or decrements a counting event, never below zero.
func (e *Event) Unsignal() {
	e.mu.Lock()
	e.state = e.state.unsignal()
	e.mu.Unlock()
}

// Reset clears the event entirely.
func (e *Event) Reset() {
	e.mu.Lock()
	e.state = e.state.clear()
	e.mu.Unlock()
}

// State returns the current value: 0/1 for boolean events, the count otherwise.
func (e *Event) State() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.value()
}

// IsSignalled reports whether a wait would succeed right now.
func (e *Event) IsSignalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.set()
}

// Wait blocks until the event is signalled or timeout elapses. A timeout of
// zero waits forever. It returns false only on timeout.
func (e *Event) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return e.wait(nil, nil)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	return e.wait(nil, t.C)
}

// WaitContext blocks until the event is signalled or ctx is done.
func (e *Event) WaitContext(ctx context.Context) bool {
	return e.wait(ctx.Done(), nil)
}

func (e *Event) wait(done <-chan struct{}, deadline <-chan time.Time) bool {
	for {
		e.mu.Lock()
		if e.state.set() {
			if e.manual {
				// let every other parked waiter re-check too
				e.broadcastLocked()
			} else {
				e.state = e.state.consume()
			}
			e.mu.Unlock()
			return true
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return false
		case <-done:
			return false
		}
	}
}

func (e *Event) broadcastLocked() {
	close(e.wake)
	e.wake = make(chan struct{})
}
