// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements a TCP socket with an explicit lifecycle
// (closed, listening, connected, remote closed), blocking, non-blocking and
// timed reads served from an internal read buffer, and readiness
// notification through a concurrency.Event.
//
// A close from any goroutine wakes every goroutine waiting on the socket:
// waits poll the socket together with an internal pipe whose write end is
// closed by Close.
package tcp
