// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
)

// autoBufferPoll bounds each wait of the auto-buffering thread so a stop
// request is noticed even on an idle connection.
const autoBufferPoll = 100 * time.Millisecond

// Socket is a TCP socket with an internal read FIFO.
//
// Lifecycle operations (Listen, attach, Close, notification and
// auto-buffering control) serialize on stateMu. Descriptor users hold ioMu
// for reading for the duration of one OS call; Close takes it for writing
// only after it has woken every waiter, to release the descriptors.
type Socket struct {
	status atomic.Int32

	stateMu sync.Mutex
	notify  *notifier
	auto    *concurrency.Thread

	ioMu  sync.RWMutex
	fd    int
	pipeR int
	pipeW int

	rbuf       *readBuffer
	scratchMu  sync.Mutex
	scratch    []byte
	updateDone *concurrency.Event

	log zerolog.Logger
}

// NewSocket returns a socket in the closed state.
func NewSocket() *Socket {
	return &Socket{
		fd:         -1,
		pipeR:      -1,
		pipeW:      -1,
		rbuf:       newReadBuffer(),
		updateDone: concurrency.NewEvent(concurrency.WithManualReset()),
		log:        report.Component("socket"),
	}
}

// Status returns the current lifecycle state.
func (s *Socket) Status() api.SocketStatus {
	return api.SocketStatus(s.status.Load())
}

func (s *Socket) setStatus(st api.SocketStatus) {
	s.status.Store(int32(st))
}

// markRemoteClosed moves CONNECTED to REMOTE_CLOSED. Any other state,
// in particular CLOSED set by a concurrent Close, is left alone.
func (s *Socket) markRemoteClosed() {
	if s.status.CompareAndSwap(int32(api.StatusConnected), int32(api.StatusRemoteClosed)) {
		s.log.Debug().Int("fd", s.currentFD()).Msg("remote end closed")
	}
}

func (s *Socket) currentFD() int {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	return s.fd
}

// BufferedDataLength returns the number of bytes waiting in the internal FIFO.
func (s *Socket) BufferedDataLength() int {
	return s.rbuf.len()
}

// ReadWillNotBlock reports whether buffered or kernel data is available.
func (s *Socket) ReadWillNotBlock() bool {
	return s.rbuf.len() > 0 || s.dataAvailable()
}

func (s *Socket) autoBuffering() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.auto != nil
}

// Read fills p. Without JustAvailable it blocks until len(p) bytes arrived,
// a wait times out or the peer closes; a short count after a remote close is
// not an error and leaves the socket REMOTE_CLOSED. Reading a closed socket
// returns 0.
func (s *Socket) Read(p []byte, opts ...ReadOption) (n int, timedOut bool, err error) {
	o := collectReadOptions(opts)
	if s.Status() == api.StatusListening {
		return 0, false, misuse("Socket.Read", api.ErrWrongState, "read from listening socket")
	}

	auto := s.autoBuffering()
	if o.buffered && !auto {
		// drain the kernel early: keeps the peer from stalling and
		// surfaces a remote close as soon as possible
		if _, err = s.updateReadBuffer(false, 0); err != nil {
			return 0, false, err
		}
	}

	buffered := s.rbuf.len()
	for !timedOut && n < len(p) {
		st := s.Status()
		if st != api.StatusConnected && !(st == api.StatusRemoteClosed && buffered > 0) {
			break
		}
		if o.justAvailable && buffered == 0 && !s.dataAvailable() {
			break
		}

		if buffered > 0 {
			n += s.rbuf.pop(p[n:], s.updateDone.Unsignal)
		}

		if n < len(p) && (!o.justAvailable || s.dataAvailable()) {
			switch {
			case auto:
				timedOut, err = s.waitEvent(o.timeout)
			case o.buffered:
				timedOut, err = s.updateReadBuffer(!o.justAvailable, o.timeout)
			default:
				var m int
				m, timedOut, err = s.rawRead(p[n:], o.justAvailable, o.timeout)
				n += m
			}
			if err != nil {
				return n, timedOut, err
			}
		}
		buffered = s.rbuf.len()
	}
	return n, timedOut, nil
}

// rawRead reads straight from the kernel into p.
func (s *Socket) rawRead(p []byte, justAvailable bool, timeout time.Duration) (n int, timedOut bool, err error) {
	for n < len(p) && !timedOut && s.Status() == api.StatusConnected {
		avail := s.dataAvailable()
		if justAvailable && !avail {
			break
		}
		if !avail {
			if timedOut, err = s.waitRaw(timeout); err != nil || timedOut {
				return n, timedOut, err
			}
			continue
		}
		m, eof, err := s.recv(p[n:])
		if err != nil {
			return n, false, err
		}
		if eof {
			s.markRemoteClosed()
			break
		}
		n += m
	}
	return n, timedOut, nil
}

// updateReadBuffer moves whatever the kernel holds into the FIFO. With wait
// set it first waits (up to timeout) for anything to arrive.
func (s *Socket) updateReadBuffer(wait bool, timeout time.Duration) (timedOut bool, err error) {
	s.scratchMu.Lock()
	defer s.scratchMu.Unlock()

	if s.scratch == nil {
		size, err := s.receiveBufferSize()
		if err != nil {
			return false, err
		}
		s.scratch = make([]byte, size)
	}

	var n int
	if wait {
		for s.Status() == api.StatusConnected && n == 0 && !timedOut {
			if timedOut, err = s.waitRaw(timeout); err != nil {
				return false, err
			}
			if n, _, err = s.rawRead(s.scratch, true, 0); err != nil {
				return false, err
			}
		}
	} else if n, _, err = s.rawRead(s.scratch, true, 0); err != nil {
		return false, err
	}
	s.rbuf.push(s.scratch[:n])
	return timedOut, nil
}

// WaitForSocketEvent blocks until a read or accept would not block, the
// timeout elapses (0 = forever) or the socket is closed by another goroutine.
func (s *Socket) WaitForSocketEvent(timeout time.Duration) (timedOut bool, err error) {
	if s.Status() == api.StatusClosed {
		return false, misuse("Socket.WaitForSocketEvent", api.ErrSocketClosed, "socket is closed")
	}
	return s.waitEvent(timeout)
}

func (s *Socket) waitEvent(timeout time.Duration) (bool, error) {
	if !s.autoBuffering() {
		if s.rbuf.len() > 0 {
			return false, nil
		}
		return s.waitRaw(timeout)
	}
	if s.Status() != api.StatusConnected {
		// the buffering thread is gone or going, nothing more will arrive
		return false, nil
	}
	// clear a stale update under the FIFO lock so the wait below only
	// returns for data pushed after this point
	if !s.rbuf.ifEmpty(s.updateDone.Unsignal) {
		return false, nil
	}
	// the final signal of a stopping thread may have been cleared above
	if s.Status() != api.StatusConnected || !s.autoBuffering() {
		return false, nil
	}
	return !s.updateDone.Wait(timeout), nil
}

// SetAutoReadBuffering starts or stops the background thread that keeps
// draining the kernel buffer into the FIFO.
func (s *Socket) SetAutoReadBuffering(enable bool) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if enable && s.Status() != api.StatusConnected {
		return misuse("Socket.SetAutoReadBuffering", api.ErrWrongState, "socket not connected")
	}
	if enable == (s.auto != nil) {
		return misuse("Socket.SetAutoReadBuffering", api.ErrWrongState, "already in requested state")
	}
	if enable {
		s.updateDone.Reset()
		t, err := concurrency.NewThread(s.autoBufferProc, nil, concurrency.WithName("sock-autobuf"))
		if err != nil {
			return err
		}
		s.auto = t
		return nil
	}
	s.stopAutoBufferingLocked()
	return nil
}

func (s *Socket) stopAutoBufferingLocked() {
	if s.auto == nil {
		return
	}
	s.auto.Stop()
	s.auto = nil
	// nobody may stay parked on an update that will never come
	s.updateDone.Signal()
}

func (s *Socket) autoBufferProc(ctx context.Context, _ any) any {
	for ctx.Err() == nil && s.Status() == api.StatusConnected {
		if _, err := s.updateReadBuffer(true, autoBufferPoll); err != nil {
			s.log.Warn().Err(err).Msg("auto buffering stopped")
			break
		}
		if s.rbuf.len() > 0 || s.Status() != api.StatusConnected {
			s.updateDone.Signal()
		}
	}
	s.updateDone.Signal()
	return nil
}

// NotifyReady arranges for ev to be signalled whenever the socket becomes
// readable (data, a pending connection or a remote close). An event can
// serve only one socket at a time and a socket only one event. A nil ev
// cancels the notification.
func (s *Socket) NotifyReady(ev *concurrency.Event) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if ev == nil {
		if s.notify == nil {
			return misuse("Socket.NotifyReady", api.ErrNotifyNotSet, "no notification to cancel")
		}
		s.stopNotifyLocked()
		return nil
	}
	if s.notify != nil {
		return misuse("Socket.NotifyReady", api.ErrNotifyInUse, "notification event already assigned")
	}
	if s.Status() == api.StatusClosed {
		return misuse("Socket.NotifyReady", api.ErrSocketClosed, "socket is closed")
	}
	if !notifications.claim(ev, s) {
		return misuse("Socket.NotifyReady", api.ErrEventOwned, "event already owned by another socket")
	}
	n, err := startNotifier(s.currentFD(), ev)
	if err != nil {
		notifications.release(ev, s)
		return err
	}
	s.notify = n
	return nil
}

func (s *Socket) stopNotifyLocked() {
	if s.notify == nil {
		return
	}
	s.notify.stop()
	notifications.release(s.notify.event, s)
	s.notify = nil
}

// Close releases the socket from any state. Waiters in other goroutines
// are woken; closing a closed socket does nothing.
func (s *Socket) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closeLocked()
}

func (s *Socket) closeLocked() error {
	prev := api.SocketStatus(s.status.Swap(int32(api.StatusClosed)))
	if prev == api.StatusClosed {
		return nil
	}
	s.stopNotifyLocked()
	s.wakeWaiters()
	s.stopAutoBufferingLocked()
	s.shutdown()

	s.ioMu.Lock()
	err := s.releaseFDs()
	s.ioMu.Unlock()

	s.rbuf.clear()
	s.log.Debug().Str("from", prev.String()).Msg("socket closed")
	if err != nil {
		return osFailure("Socket.Close", "cannot close socket", err)
	}
	return nil
}

func (s *Socket) String() string {
	return fmt.Sprintf("tcp.Socket{fd=%d status=%s}", s.currentFD(), s.Status())
}

func misuse(op string, sentinel error, msg string) error {
	return report.Fatal(api.NewMisuse(op, sentinel, msg).Relocate(1))
}

func osFailure(op, msg string, err error) error {
	return report.Fatal(api.NewOSError(op, msg, err).Relocate(1))
}
