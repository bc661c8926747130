// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import (
	"math/bits"
	"runtime"
	"strconv"
	"strings"
)

// MaxCores is the number of cores a CoreMask can address.
const MaxCores = 64

// CoreMask is a set of cores: bit i set means core i is allowed.
// The zero mask means "all cores".
type CoreMask uint64

// Of builds a mask from core indices. Indices outside [0, MaxCores) are ignored.
func Of(cores ...int) CoreMask {
	var m CoreMask
	for _, c := range cores {
		if c >= 0 && c < MaxCores {
			m |= 1 << uint(c)
		}
	}
	return m
}

// All returns the mask of every core the process could run on at startup.
// CPU indices need not be contiguous under a cpuset.
func All() CoreMask {
	if m := startMask(); m != 0 {
		return m
	}
	return firstN(NumCPU())
}

func firstN(n int) CoreMask {
	if n >= MaxCores {
		return ^CoreMask(0)
	}
	return CoreMask(1)<<uint(n) - 1
}

// NumCPU returns the number of logical CPUs usable by the process.
func NumCPU() int {
	return runtime.NumCPU()
}

// Normalize maps the zero mask to All.
func (m CoreMask) Normalize() CoreMask {
	if m == 0 {
		return All()
	}
	return m
}

// Has reports whether core is in the mask.
func (m CoreMask) Has(core int) bool {
	if core < 0 || core >= MaxCores {
		return false
	}
	return m&(1<<uint(core)) != 0
}

// Count returns the number of cores in the mask.
func (m CoreMask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// Cores lists the core indices in ascending order.
func (m CoreMask) Cores() []int {
	out := make([]int, 0, m.Count())
	for v := uint64(m); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros64(v))
	}
	return out
}

func (m CoreMask) String() string {
	if m == 0 {
		return "all"
	}
	cores := m.Cores()
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// SetAffinity pins the calling OS thread to a single logical CPU.
// The caller should hold runtime.LockOSThread for the pin to be meaningful.
func SetAffinity(cpuID int) error {
	return setThreadAffinity(0, Of(cpuID))
}

// SetThreadAffinity restricts OS thread tid to the cores in m.
// A tid of 0 designates the calling thread; a zero mask allows all cores.
func SetThreadAffinity(tid int, m CoreMask) error {
	return setThreadAffinity(tid, m.Normalize())
}

// ThreadAffinity returns the current core mask of OS thread tid.
func ThreadAffinity(tid int) (CoreMask, error) {
	return threadAffinity(tid)
}
