// File: server/options.go
// Package server defines functional options for TcpServer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/prometheus/client_golang/prometheus"

// Option customizes server initialization.
type Option func(*TcpServer)

// WithBacklog sets the listen backlog. 0 uses the system maximum.
func WithBacklog(n int) Option {
	return func(s *TcpServer) {
		s.backlog = n
	}
}

// WithKeepAlives enables SO_KEEPALIVE on every accepted connection.
func WithKeepAlives(enable bool) Option {
	return func(s *TcpServer) {
		s.keepAlives = enable
	}
}

// WithAutoReadBuffering starts background read buffering on every accepted
// connection before the handler runs.
func WithAutoReadBuffering(enable bool) Option {
	return func(s *TcpServer) {
		s.autoBuffer = enable
	}
}

// WithMetrics registers server metrics named "<prefix>_..." with reg.
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(s *TcpServer) {
		s.metricsReg = reg
		s.metricsPrefix = prefix
	}
}

// WithReadyHook installs fn, called with the bound port once Start is
// listening and before the first accept.
func WithReadyHook(fn func(port int)) Option {
	return func(s *TcpServer) {
		s.readyHook = fn
	}
}
