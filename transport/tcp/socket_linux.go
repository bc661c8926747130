//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux socket plumbing on golang.org/x/sys/unix.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
)

// errNoFD is returned by descriptor helpers racing with Close.
var errNoFD = errors.New("descriptor released")

// Listen binds to addr:port ("" = any address) and starts listening.
// A backlog of 0 uses the system maximum.
func (s *Socket) Listen(port int, addr string, backlog int) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.Status() != api.StatusClosed {
		return misuse("Socket.Listen", api.ErrWrongState, "socket not in closed state")
	}
	if port < 0 || port > 0xffff {
		return misuse("Socket.Listen", api.ErrInvalidArgument, "port out of range: "+strconv.Itoa(port))
	}
	sa := &unix.SockaddrInet4{Port: port}
	if addr != "" {
		ip, err := resolveIPv4(addr)
		if err != nil {
			return osFailure("Socket.Listen", fmt.Sprintf("cannot bind socket to address '%s'", addr), err)
		}
		copy(sa.Addr[:], ip)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return osFailure("Socket.Listen", "cannot create socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return osFailure("Socket.Listen", "cannot set SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return osFailure("Socket.Listen", fmt.Sprintf("cannot bind socket to address '%s' port %d", addr, port), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return osFailure("Socket.Listen", "cannot listen on socket", err)
	}
	if err := s.installLocked(fd); err != nil {
		return err
	}
	s.setStatus(api.StatusListening)
	s.log.Debug().Int("fd", fd).Str("addr", addr).Int("port", port).Msg("listening")
	return nil
}

// LocalPort returns the port the socket is bound to.
func (s *Socket) LocalPort() (int, error) {
	if st := s.Status(); st == api.StatusClosed {
		return 0, misuse("Socket.LocalPort", api.ErrSocketClosed, "socket is closed")
	}
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return 0, misuse("Socket.LocalPort", api.ErrSocketClosed, "socket is closed")
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return 0, osFailure("Socket.LocalPort", "getsockname() failed", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, osFailure("Socket.LocalPort", "unexpected address family", unix.EAFNOSUPPORT)
}

// Accept takes the next pending connection into dest, which must be closed.
// It blocks until a connection arrives or the listener is closed.
func (s *Socket) Accept(dest *Socket) error {
	_, err := s.acceptInto("Socket.Accept", dest, true)
	return err
}

// TryAccept takes a pending connection into dest if one is queued. It
// returns false without blocking when there is none.
func (s *Socket) TryAccept(dest *Socket) (bool, error) {
	return s.acceptInto("Socket.TryAccept", dest, false)
}

func (s *Socket) acceptInto(op string, dest *Socket, block bool) (bool, error) {
	if dest == nil {
		return false, misuse(op, api.ErrInvalidArgument, "nil destination socket")
	}
	if dest.Status() != api.StatusClosed {
		return false, misuse(op, api.ErrWrongState, "destination socket not in closed state")
	}
	if s.Status() != api.StatusListening {
		return false, misuse(op, api.ErrWrongState, "socket not listening")
	}

	nfd, err := s.accept(block)
	if err == unix.EAGAIN {
		return false, nil
	}
	if err != nil {
		if s.Status() == api.StatusClosed {
			return false, api.NewStateError(op, api.ErrSocketClosed, "listener closed during accept")
		}
		return false, osFailure(op, "accept failed", err)
	}

	dest.stateMu.Lock()
	defer dest.stateMu.Unlock()
	if dest.Status() != api.StatusClosed {
		unix.Close(nfd)
		return false, misuse(op, api.ErrWrongState, "destination socket not in closed state")
	}
	if err := dest.installLocked(nfd); err != nil {
		return false, err
	}
	dest.setStatus(api.StatusConnected)
	return true, nil
}

// accept takes one connection from the non-blocking listener. With block
// set it waits on the listener and the close pipe until one arrives.
func (s *Socket) accept(block bool) (int, error) {
	for {
		nfd, err := s.acceptOnce()
		if err != unix.EAGAIN || !block {
			return nfd, err
		}
		if _, err := s.waitRaw(0); err != nil {
			return -1, err
		}
		if s.Status() != api.StatusListening {
			return -1, errNoFD
		}
	}
}

func (s *Socket) acceptOnce() (int, error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return -1, errNoFD
	}
	for {
		nfd, _, err := unix.Accept4(s.fd, unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		return nfd, err
	}
}

// AcceptIsAvailable reports whether Accept would not block.
func (s *Socket) AcceptIsAvailable() (bool, error) {
	if s.Status() != api.StatusListening {
		return false, misuse("Socket.AcceptIsAvailable", api.ErrWrongState, "socket not in listening state")
	}
	ready, err := s.pollNow(unix.POLLIN | unix.POLLPRI)
	if err != nil {
		return false, osFailure("Socket.AcceptIsAvailable", "poll() call failed", err)
	}
	return ready, nil
}

// ConnectTo connects to host:port. A REMOTE_CLOSED socket is closed first.
func (s *Socket) ConnectTo(port int, host string) error {
	s.stateMu.Lock()
	if s.Status() == api.StatusRemoteClosed {
		if err := s.closeLocked(); err != nil {
			s.stateMu.Unlock()
			return err
		}
	}
	st := s.Status()
	s.stateMu.Unlock()
	if st != api.StatusClosed {
		return misuse("Socket.ConnectTo", api.ErrWrongState, "socket not in closed state")
	}
	if port <= 0 || port > 0xffff {
		return misuse("Socket.ConnectTo", api.ErrInvalidArgument, "port out of range: "+strconv.Itoa(port))
	}

	ip, err := resolveIPv4(host)
	if err != nil {
		return osFailure("Socket.ConnectTo", fmt.Sprintf("cannot resolve host '%s'", host), err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return osFailure("Socket.ConnectTo", "cannot create socket", err)
	}
	if err := connectFD(fd, sa); err != nil {
		unix.Close(fd)
		return osFailure("Socket.ConnectTo", fmt.Sprintf("cannot connect to %s:%d", host, port), err)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.Status() != api.StatusClosed {
		unix.Close(fd)
		return misuse("Socket.ConnectTo", api.ErrWrongState, "socket changed state while connecting")
	}
	if err := s.installLocked(fd); err != nil {
		return err
	}
	s.setStatus(api.StatusConnected)
	s.log.Debug().Int("fd", fd).Str("host", host).Int("port", port).Msg("connected")
	return nil
}

// connectFD completes a blocking connect, finishing it by poll when a
// signal interrupted the call.
func connectFD(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err != unix.EINTR && err != unix.EINPROGRESS {
		return err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// installLocked adopts fd and creates the close pipe. Caller holds stateMu.
func (s *Socket) installLocked(fd int) error {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return osFailure("Socket", "cannot create close pipe", err)
	}
	s.ioMu.Lock()
	s.fd = fd
	s.pipeR, s.pipeW = p[0], p[1]
	s.ioMu.Unlock()

	s.rbuf.clear()
	s.updateDone.Reset()
	s.scratchMu.Lock()
	s.scratch = nil
	s.scratchMu.Unlock()
	return nil
}

// Write sends all of p, looping over partial sends. When the peer resets
// the connection the socket becomes REMOTE_CLOSED and the count sent so far
// is returned with ErrRemoteClosed.
func (s *Socket) Write(p []byte) (int, error) {
	switch s.Status() {
	case api.StatusListening:
		return 0, misuse("Socket.Write", api.ErrWrongState, "write to listening socket")
	case api.StatusClosed:
		return 0, api.NewStateError("Socket.Write", api.ErrSocketClosed, "socket is closed")
	case api.StatusRemoteClosed:
		return 0, api.NewStateError("Socket.Write", api.ErrRemoteClosed, "remote end closed")
	}

	total := 0
	for total < len(p) {
		n, err := s.send(p[total:])
		if n > 0 {
			total += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if _, werr := s.pollWait(unix.POLLOUT, -1); werr != nil {
				return total, osFailure("Socket.Write", "poll() failed", werr)
			}
		case err == unix.ECONNRESET || err == unix.EPIPE || err == errNoFD:
			if s.Status() == api.StatusClosed {
				return total, api.NewStateError("Socket.Write", api.ErrSocketClosed, "socket closed during write")
			}
			s.markRemoteClosed()
			report.Warn("Socket.Write", fmt.Sprintf("short write, %d of %d bytes sent", total, len(p)), err)
			return total, api.NewStateError("Socket.Write", api.ErrRemoteClosed, "connection reset by peer")
		default:
			return total, osFailure("Socket.Write", "send() failed", err)
		}
	}
	return total, nil
}

func (s *Socket) send(p []byte) (int, error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return 0, errNoFD
	}
	return unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
}

// recv reads once without blocking. eof is set on an orderly shutdown or
// a connection error, both of which end the readable life of the socket.
func (s *Socket) recv(p []byte) (n int, eof bool, err error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return 0, true, nil
	}
	for {
		n, _, err = unix.Recvfrom(s.fd, p, unix.MSG_DONTWAIT)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, false, nil
		case err != nil:
			// ECONNRESET, ETIMEDOUT and friends: the link is gone
			return 0, true, nil
		case n == 0:
			return 0, true, nil
		}
		return n, false, nil
	}
}

// dataAvailable reports whether a read on a connected socket would not block.
func (s *Socket) dataAvailable() bool {
	if s.Status() != api.StatusConnected {
		return false
	}
	ready, _ := s.pollNow(unix.POLLIN | unix.POLLPRI)
	return ready
}

func (s *Socket) pollNow(events int16) (bool, error) {
	return s.pollWait(events, 0)
}

func (s *Socket) pollWait(events int16, ms int) (bool, error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return false, nil
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// waitRaw polls the socket and the close pipe. It returns timedOut when the
// timeout (0 = forever) passed with neither becoming ready.
func (s *Socket) waitRaw(timeout time.Duration) (timedOut bool, err error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 || s.pipeR < 0 {
		return false, nil
	}
	fds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN | unix.POLLPRI},
		{Fd: int32(s.pipeR), Events: unix.POLLIN | unix.POLLPRI},
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ms := concurrency.Millis(timeout)
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			if timeout > 0 {
				left := time.Until(deadline)
				if left <= 0 {
					return true, nil
				}
				ms = concurrency.Millis(left)
			}
			continue
		}
		if err != nil {
			return false, osFailure("Socket.WaitForSocketEvent", "cannot poll socket", err)
		}
		return n == 0, nil
	}
}

func (s *Socket) receiveBufferSize() (int, error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return 1, nil
	}
	size, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, osFailure("Socket.Read", "cannot read socket buffer size", err)
	}
	if size <= 0 {
		return 0, misuse("Socket.Read", api.ErrInvalidArgument, "socket buffer size reported is "+strconv.Itoa(size))
	}
	return size, nil
}

// WriteWillNotBlock reports whether a send would be accepted immediately.
func (s *Socket) WriteWillNotBlock() (bool, error) {
	if s.Status() != api.StatusConnected {
		return false, misuse("Socket.WriteWillNotBlock", api.ErrWrongState, "socket not in connected state")
	}
	ready, err := s.pollNow(unix.POLLOUT)
	if err != nil {
		return false, osFailure("Socket.WriteWillNotBlock", "poll() failed", err)
	}
	return ready, nil
}

// SetKeepAlives toggles SO_KEEPALIVE.
func (s *Socket) SetKeepAlives(enable bool) error {
	if s.Status() != api.StatusConnected {
		return misuse("Socket.SetKeepAlives", api.ErrWrongState, "socket not in connected state")
	}
	opt := 0
	if enable {
		opt = 1
	}
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, opt); err != nil {
		return osFailure("Socket.SetKeepAlives", "cannot set keepalive option on socket", err)
	}
	return nil
}

func (s *Socket) peer(op string) (*unix.SockaddrInet4, error) {
	if s.Status() != api.StatusConnected {
		return nil, misuse(op, api.ErrWrongState, "socket not in connected state")
	}
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil, osFailure(op, "getpeername() failed", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, osFailure(op, "unexpected address family", unix.EAFNOSUPPORT)
	}
	return in4, nil
}

// RemoteAddr returns the peer's IPv4 address in dotted form.
func (s *Socket) RemoteAddr() (string, error) {
	in4, err := s.peer("Socket.RemoteAddr")
	if err != nil {
		return "", err
	}
	return net.IP(in4.Addr[:]).String(), nil
}

// RemotePort returns the peer's port.
func (s *Socket) RemotePort() (int, error) {
	in4, err := s.peer("Socket.RemotePort")
	if err != nil {
		return 0, err
	}
	return in4.Port, nil
}

// wakeWaiters closes the write end of the close pipe; every poll on the
// read end returns from then on. Caller holds stateMu.
func (s *Socket) wakeWaiters() {
	if s.pipeW >= 0 {
		unix.Close(s.pipeW)
		s.pipeW = -1
	}
}

// shutdown unblocks accept, send and recv in other goroutines.
func (s *Socket) shutdown() {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd >= 0 {
		_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	}
}

// releaseFDs closes the socket and the read end of the pipe. Caller holds ioMu.
func (s *Socket) releaseFDs() error {
	var err error
	if s.fd >= 0 {
		err = unix.Close(s.fd)
		s.fd = -1
	}
	if s.pipeR >= 0 {
		unix.Close(s.pipeR)
		s.pipeR = -1
	}
	return err
}

func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, unix.EAFNOSUPPORT
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, unix.EADDRNOTAVAIL
	}
	return ips[0].To4(), nil
}
