// File: api/handler.go
// Package api defines the user-supplied callable contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// JobFunc is a unit of work run by a pool worker.
type JobFunc func(param any)

// ThreadFunc is the procedure of a Thread. ctx is cancelled when the thread
// is asked to stop; the returned value is retrievable by joining.
type ThreadFunc func(ctx context.Context, param any) any
