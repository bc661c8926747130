//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

const (
	PolicyNormal   = 0
	PolicyFIFO     = 1
	PolicyRR       = 2
	PolicyBatch    = 3
	PolicyIdle     = 5
	PolicyDeadline = 6
)

func Gettid() int { return 0 }

func SetThreadName(string) error { return ErrUnsupported }

func GetSched(int) (SchedParams, error) { return SchedParams{}, ErrUnsupported }

func SetSched(int, SchedParams) error { return ErrUnsupported }

func SetNice(int, int) error { return ErrUnsupported }

func Nice(int) (int, error) { return 0, ErrUnsupported }
