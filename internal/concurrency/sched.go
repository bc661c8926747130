// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

// ErrUnsupported is returned by platform stubs.
var ErrUnsupported = errors.New("concurrency: not supported on this platform")

// MaxThreadName is the longest thread name the kernel keeps, excluding the NUL.
const MaxThreadName = 15

// SchedParams is the platform-neutral view of a thread's scheduling attributes.
// Policy values are the kernel's SCHED_* numbers.
type SchedParams struct {
	Policy   int
	Priority int
	Nice     int
	// SCHED_DEADLINE parameters in nanoseconds.
	Runtime  uint64
	Deadline uint64
	Period   uint64
}

// TruncateName clips name to the kernel limit.
func TruncateName(name string) string {
	if len(name) > MaxThreadName {
		return name[:MaxThreadName]
	}
	return name
}
