//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel scheduling policies.
const (
	PolicyNormal   = unix.SCHED_NORMAL
	PolicyFIFO     = unix.SCHED_FIFO
	PolicyRR       = unix.SCHED_RR
	PolicyBatch    = unix.SCHED_BATCH
	PolicyIdle     = unix.SCHED_IDLE
	PolicyDeadline = unix.SCHED_DEADLINE
)

// Gettid returns the OS id of the calling thread.
func Gettid() int {
	return unix.Gettid()
}

// SetThreadName names the calling OS thread.
func SetThreadName(name string) error {
	p, err := unix.BytePtrFromString(TruncateName(name))
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}

// GetSched reads the scheduling attributes of thread tid.
func GetSched(tid int) (SchedParams, error) {
	attr, err := unix.SchedGetAttr(tid, 0)
	if err != nil {
		return SchedParams{}, fmt.Errorf("sched_getattr(%d): %w", tid, err)
	}
	return SchedParams{
		Policy:   int(attr.Policy),
		Priority: int(attr.Priority),
		Nice:     int(attr.Nice),
		Runtime:  attr.Runtime,
		Deadline: attr.Deadline,
		Period:   attr.Period,
	}, nil
}

// SetSched applies policy and priority to thread tid. The current nice value
// is carried over so a policy change does not reset it.
func SetSched(tid int, p SchedParams) error {
	cur, err := unix.SchedGetAttr(tid, 0)
	if err != nil {
		return fmt.Errorf("sched_getattr(%d): %w", tid, err)
	}
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   uint32(p.Policy),
		Nice:     cur.Nice,
		Priority: uint32(p.Priority),
	}
	if p.Policy == PolicyDeadline {
		attr.Runtime = p.Runtime
		attr.Deadline = p.Deadline
		attr.Period = p.Period
	}
	if err := unix.SchedSetAttr(tid, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr(%d, policy=%d, prio=%d): %w", tid, p.Policy, p.Priority, err)
	}
	return nil
}

// SetNice sets the niceness of thread tid.
func SetNice(tid, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
		return fmt.Errorf("setpriority(%d, %d): %w", tid, nice, err)
	}
	return nil
}

// Nice returns the niceness of thread tid.
func Nice(tid int) (int, error) {
	p, err := GetSched(tid)
	if err != nil {
		return 0, err
	}
	return p.Nice, nil
}
