// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/transport/tcp"
)

// TcpServer accepts connections and runs a handler thread per connection.
type TcpServer struct {
	backlog       int
	keepAlives    bool
	autoBuffer    bool
	readyHook     func(port int)
	metricsReg    prometheus.Registerer
	metricsPrefix string
	metrics       *serverMetrics
	log           zerolog.Logger

	stateMu   sync.Mutex
	running   bool
	listener  *tcp.Socket
	port      int
	listening chan struct{}

	// acceptMu orders the accept path against Stop closing the listener.
	acceptMu sync.Mutex
	ready    *concurrency.Event

	connMu  *concurrency.Mutex
	conns   []*connection
	collect *concurrency.Event
	handler ConnHandler
}

// New builds an idle server.
func New(opts ...Option) *TcpServer {
	s := &TcpServer{
		log:       report.Component("tcpserver"),
		listening: make(chan struct{}),
		ready:     concurrency.NewEvent(),
		connMu:    concurrency.NewMutex(concurrency.MutexErrorCheck),
		collect:   concurrency.NewEvent(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metricsReg != nil && s.metricsPrefix != "" {
		m, err := newServerMetrics(s.metricsReg, s.metricsPrefix)
		if err != nil {
			report.Warn("server.New", "metrics disabled", err)
		} else {
			s.metrics = m
		}
	}
	return s
}

// Start listens on addr:port ("" = any address, 0 = ephemeral port) and
// serves connections until Stop. It returns after the listener is closed
// and every connection thread has been joined. A stopped server may be
// started again.
func (s *TcpServer) Start(handler ConnHandler, port int, addr string, userParam any) error {
	if handler == nil {
		return report.Fatal(api.NewMisuse("TcpServer.Start", api.ErrInvalidArgument, "nil handler"))
	}

	s.stateMu.Lock()
	if s.running {
		s.stateMu.Unlock()
		return report.Fatal(api.NewMisuse("TcpServer.Start", api.ErrServerRunning, "server already running"))
	}
	l := tcp.NewSocket()
	if err := l.Listen(port, addr, s.backlog); err != nil {
		s.stateMu.Unlock()
		return err
	}
	bound, err := l.LocalPort()
	if err == nil {
		s.ready.Reset()
		err = l.NotifyReady(s.ready)
	}
	if err != nil {
		l.Close()
		s.stateMu.Unlock()
		return err
	}
	s.collect.Reset()
	gc, err := concurrency.NewThread(s.collectGarbage, l, concurrency.WithName("tcpsrv-gc"))
	if err != nil {
		l.Close()
		s.stateMu.Unlock()
		return err
	}
	s.running = true
	s.listener = l
	s.port = bound
	s.handler = handler
	close(s.listening)
	s.stateMu.Unlock()

	s.log.Info().Str("addr", addr).Int("port", bound).Msg("server listening")
	if s.readyHook != nil {
		s.readyHook(bound)
	}

	var loopErr error
	for {
		more, err := s.acceptPending(l, userParam)
		if err != nil {
			loopErr = err
			s.Stop()
			break
		}
		if !more {
			break
		}
		s.ready.Wait(0)
	}

	// the collector exits once the list is empty and the listener is closed
	gc.ReturnValue()

	s.stateMu.Lock()
	s.running = false
	s.listener = nil
	s.handler = nil
	s.listening = make(chan struct{})
	s.stateMu.Unlock()

	s.log.Info().Int("port", bound).Msg("server stopped")
	return loopErr
}

// acceptPending accepts every connection the listener holds. It returns
// false once the listener is no longer listening. The listener never
// blocks, so Stop waits on acceptMu for at most one accept.
func (s *TcpServer) acceptPending(l *tcp.Socket, userParam any) (bool, error) {
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()
	for {
		if l.Status() != api.StatusListening {
			return false, nil
		}
		sock := tcp.NewSocket()
		ok, err := l.TryAccept(sock)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if err := s.serveAccepted(sock, userParam); err != nil {
			return false, err
		}
	}
}

func (s *TcpServer) serveAccepted(sock *tcp.Socket, userParam any) error {
	c := &connection{params: ConnectionParams{
		ID:        uuid.New(),
		Socket:    sock,
		UserParam: userParam,
	}}
	clog := s.log.With().Str("conn_id", c.params.ID.String()).Logger()
	if addr, err := sock.RemoteAddr(); err == nil {
		clog.Debug().Str("remote", addr).Msg("connection accepted")
	}
	if s.keepAlives {
		if err := sock.SetKeepAlives(true); err != nil {
			report.Warn("TcpServer.accept", "cannot enable keepalives", err)
		}
	}
	if s.autoBuffer {
		if err := sock.SetAutoReadBuffering(true); err != nil {
			report.Warn("TcpServer.accept", "cannot enable read buffering", err)
		}
	}

	// the thread is created under the list lock so the collector cannot
	// see it finished before it is listed
	if err := s.connMu.Lock(); err != nil {
		sock.Close()
		return err
	}
	defer s.connMu.Unlock()
	t, err := concurrency.NewThread(s.serve, c, concurrency.WithName("tcpsrv-conn"))
	if err != nil {
		sock.Close()
		return err
	}
	c.thread = t
	s.conns = append(s.conns, c)
	if s.metrics != nil {
		s.metrics.accepted.Inc()
		s.metrics.active.Set(float64(len(s.conns)))
	}
	return nil
}

// serve runs the handler for one connection. A handler panic is reported
// by the thread; the socket is closed and the collector woken either way.
func (s *TcpServer) serve(_ context.Context, param any) any {
	c := param.(*connection)
	defer func() {
		if c.params.Socket.Status() != api.StatusClosed {
			c.params.Socket.Close()
		}
		c.done.Store(true)
		s.collect.Signal()
	}()
	s.handler(&c.params)
	return nil
}

// collectGarbage joins finished connection threads until the listener is
// closed and no connection is left.
func (s *TcpServer) collectGarbage(_ context.Context, param any) any {
	l := param.(*tcp.Socket)
	for {
		left, err := s.reap()
		if err != nil {
			return err
		}
		if left == 0 && l.Status() == api.StatusClosed {
			return nil
		}
		s.collect.Wait(0)
	}
}

func (s *TcpServer) reap() (int, error) {
	if err := s.connMu.Lock(); err != nil {
		return 0, err
	}
	defer s.connMu.Unlock()

	kept := s.conns[:0]
	reaped := 0
	for _, c := range s.conns {
		if !c.done.Load() {
			kept = append(kept, c)
			continue
		}
		c.thread.ReturnValue()
		reaped++
		s.log.Debug().Str("conn_id", c.params.ID.String()).Msg("connection collected")
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	if s.metrics != nil && reaped > 0 {
		s.metrics.collected.Add(float64(reaped))
		s.metrics.active.Set(float64(len(s.conns)))
	}
	return len(s.conns), nil
}

// Stop closes the listener and every connection socket. It returns true
// only if it stopped a listening server; Start returns shortly after.
func (s *TcpServer) Stop() bool {
	s.stateMu.Lock()
	l := s.listener
	s.stateMu.Unlock()
	if l == nil {
		return false
	}

	s.acceptMu.Lock()
	stopped := l.Status() == api.StatusListening
	if stopped {
		l.Close()
	}
	s.acceptMu.Unlock()
	if !stopped {
		return false
	}
	s.ready.Signal()

	if err := s.connMu.Lock(); err == nil {
		for _, c := range s.conns {
			c.params.Socket.Close()
		}
		s.connMu.Unlock()
	}
	s.collect.Signal()
	return true
}

// Listening returns a channel closed once the current or next Start is
// accepting connections.
func (s *TcpServer) Listening() <-chan struct{} {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.listening
}

// Port returns the port bound by the last Start.
func (s *TcpServer) Port() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.port
}

// Running reports whether Start is serving.
func (s *TcpServer) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// Connections returns the number of connection threads not yet collected.
func (s *TcpServer) Connections() int {
	if err := s.connMu.Lock(); err != nil {
		return 0
	}
	defer s.connMu.Unlock()
	return len(s.conns)
}

func (s *TcpServer) String() string {
	return fmt.Sprintf("TcpServer{port=%d running=%t}", s.Port(), s.Running())
}
