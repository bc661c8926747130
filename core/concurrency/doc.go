// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the synchronization and threading primitives
// the transport and server packages are built on: an auto/manual reset,
// boolean/counting Event, a policy-driven Mutex, an OS-thread bound Thread
// with scheduling control, and a ThreadPool with per-job core affinity.
//
// Fatal conditions are reported through package report and returned as
// *api.Error values. Timeouts are never errors.
package concurrency
