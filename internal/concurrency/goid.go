// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// GoroutineID returns the current goroutine's ID, parsed from the stack header
// ("goroutine 123 [running]:").
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
