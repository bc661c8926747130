//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import "errors"

var errUnsupported = errors.New("affinity: not supported on this platform")

func setThreadAffinity(int, CoreMask) error { return errUnsupported }

func threadAffinity(int) (CoreMask, error) { return 0, errUnsupported }

func startMask() CoreMask { return 0 }
