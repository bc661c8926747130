//go:build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - stub for platforms without the Linux socket plumbing.

package tcp

import (
	"time"

	"github.com/momentics/hioload-core/api"
)

func unsupported(op string) error {
	return misuse(op, api.ErrNotSupported, "sockets are implemented for linux only")
}

func (s *Socket) Listen(int, string, int) error { return unsupported("Socket.Listen") }

func (s *Socket) LocalPort() (int, error) { return 0, unsupported("Socket.LocalPort") }

func (s *Socket) Accept(*Socket) error { return unsupported("Socket.Accept") }

func (s *Socket) TryAccept(*Socket) (bool, error) {
	return false, unsupported("Socket.TryAccept")
}

func (s *Socket) AcceptIsAvailable() (bool, error) {
	return false, unsupported("Socket.AcceptIsAvailable")
}

func (s *Socket) ConnectTo(int, string) error { return unsupported("Socket.ConnectTo") }

func (s *Socket) Write([]byte) (int, error) { return 0, unsupported("Socket.Write") }

func (s *Socket) WriteWillNotBlock() (bool, error) {
	return false, unsupported("Socket.WriteWillNotBlock")
}

func (s *Socket) SetKeepAlives(bool) error { return unsupported("Socket.SetKeepAlives") }

func (s *Socket) RemoteAddr() (string, error) { return "", unsupported("Socket.RemoteAddr") }

func (s *Socket) RemotePort() (int, error) { return 0, unsupported("Socket.RemotePort") }

func (s *Socket) recv([]byte) (int, bool, error) { return 0, true, nil }

func (s *Socket) dataAvailable() bool { return false }

func (s *Socket) waitRaw(time.Duration) (bool, error) { return true, nil }

func (s *Socket) receiveBufferSize() (int, error) { return 1, nil }

func (s *Socket) wakeWaiters() {}

func (s *Socket) shutdown() {}

func (s *Socket) releaseFDs() error { return nil }
