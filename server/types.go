// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/transport/tcp"
)

// ConnectionParams is what a handler receives for one accepted connection.
// The server closes Socket after the handler returns.
type ConnectionParams struct {
	ID        uuid.UUID   // correlates log records of one connection
	Socket    *tcp.Socket // connected client socket owned by the handler
	UserParam any         // value given to Start
}

// ConnHandler serves one connection on its own thread. It should return
// once the socket stops being CONNECTED.
type ConnHandler func(conn *ConnectionParams)

// connection tracks one connection thread until the collector joins it.
type connection struct {
	params ConnectionParams
	thread *concurrency.Thread
	done   atomic.Bool
}
