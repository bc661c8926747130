// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// SocketStatus enumerates the lifecycle state of a TCP socket.
type SocketStatus int32

const (
	// StatusClosed: no OS socket is open.
	StatusClosed SocketStatus = iota
	// StatusListening: accepting incoming connections after Listen.
	StatusListening
	// StatusConnected: a connection to a remote socket exists.
	StatusConnected
	// StatusRemoteClosed: the remote end closed or the link broke after
	// the socket was connected. Buffered data can still be read.
	StatusRemoteClosed
)

func (s SocketStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusListening:
		return "listening"
	case StatusConnected:
		return "connected"
	case StatusRemoteClosed:
		return "remote_closed"
	default:
		return "unknown"
	}
}

// SchedulingModel selects the kernel scheduling policy of a thread.
type SchedulingModel int

const (
	// Time-shared models. Priority must be 0.
	SchedDefault SchedulingModel = iota
	SchedBatch
	SchedIdle
	// Real-time models. Priority takes effect.
	SchedFIFO
	SchedRoundRobin
	SchedDeadline
)

// IsRealtime reports whether the scheduling priority is meaningful.
func (m SchedulingModel) IsRealtime() bool {
	return m == SchedFIFO || m == SchedRoundRobin || m == SchedDeadline
}

func (m SchedulingModel) String() string {
	switch m {
	case SchedDefault:
		return "default"
	case SchedBatch:
		return "batch"
	case SchedIdle:
		return "idle"
	case SchedFIFO:
		return "fifo"
	case SchedRoundRobin:
		return "round_robin"
	case SchedDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}
