// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import "time"

// ReadOption tunes a single Read call.
type ReadOption func(*readOptions)

type readOptions struct {
	justAvailable bool
	buffered      bool
	timeout       time.Duration
}

// JustAvailable returns whatever can be read without blocking instead of
// waiting for the whole buffer.
func JustAvailable() ReadOption {
	return func(o *readOptions) { o.justAvailable = true }
}

// Buffered reads through the internal FIFO, draining the kernel buffer in
// SO_RCVBUF sized chunks. Remote closure is detected as soon as the kernel
// reports it rather than after the application has consumed everything.
func Buffered() ReadOption {
	return func(o *readOptions) { o.buffered = true }
}

// WithTimeout bounds every individual wait for data (0 = wait forever).
func WithTimeout(d time.Duration) ReadOption {
	return func(o *readOptions) { o.timeout = d }
}

func collectReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
