// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Low-level OS plumbing shared by the public concurrency and transport
// packages: goroutine identity, per-thread scheduling attributes (policy,
// real-time priority, niceness, name) and an edge-triggered epoll poller
// with an eventfd wakeup.
//
// Linux is the supported platform; other platforms get stubs that return
// ErrUnsupported.
package concurrency
