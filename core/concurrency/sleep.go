// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"time"
)

// SleepContext blocks for d or until ctx is done. On interruption it
// returns the time that was left.
func SleepContext(ctx context.Context, d time.Duration) (remaining time.Duration, interrupted bool) {
	if d <= 0 {
		return 0, false
	}
	deadline := time.Now().Add(d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return 0, false
	case <-ctx.Done():
		left := time.Until(deadline)
		if left < 0 {
			left = 0
		}
		return left, true
	}
}

// Millis converts d to whole milliseconds for OS calls taking an int
// timeout, with 0 mapped to -1 (infinite) and overflow clamped.
func Millis(d time.Duration) int {
	if d <= 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 {
		return 1
	}
	const maxInt32 = 1<<31 - 1
	if ms > maxInt32 {
		return maxInt32
	}
	return int(ms)
}
