//go:build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for thread CPU affinity.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// processMask is the affinity of the initializing thread, which the runtime
// also uses to size NumCPU.
var processMask, _ = threadAffinity(0)

func startMask() CoreMask { return processMask }

func setThreadAffinity(tid int, m CoreMask) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range m.Cores() {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(tid, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity(%d, %s): %w", tid, m, err)
	}
	return nil
}

func threadAffinity(tid int) (CoreMask, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(tid, &set); err != nil {
		return 0, fmt.Errorf("affinity: sched_getaffinity(%d): %w", tid, err)
	}
	var m CoreMask
	for c := 0; c < MaxCores; c++ {
		if set.IsSet(c) {
			m |= 1 << uint(c)
		}
	}
	return m, nil
}
