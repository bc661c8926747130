//go:build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"runtime"

	"github.com/momentics/hioload-core/affinity"
)

// RegisterPlatformProbes adds CPU count and process affinity probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.affinity", func() any {
		m, err := affinity.ThreadAffinity(0)
		if err != nil {
			return err.Error()
		}
		return m.String()
	})
}
