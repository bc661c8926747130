// Package server runs a thread-per-connection TCP server on top of
// transport/tcp sockets and core/concurrency threads.
//
// Start blocks the calling goroutine: it listens, accepts connections and
// hands each one to the user handler on its own locked OS thread. A
// collector thread joins finished connection threads. Stop, called from any
// goroutine, closes the listener and every connection socket; Start returns
// once the collector has drained the connection list.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package server
