// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities shared by the
// concurrency, transport and server packages.

package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"syscall"
)

// Common errors used across the library.
var (
	ErrWrongState      = errors.New("operation not valid in current state")
	ErrSocketClosed    = errors.New("socket is closed")
	ErrRemoteClosed    = errors.New("remote end closed the connection")
	ErrNotifyInUse     = errors.New("notification event already assigned")
	ErrNotifyNotSet    = errors.New("no notification event to cancel")
	ErrEventOwned      = errors.New("notification event already owned by another socket")
	ErrDeadlock        = errors.New("mutex already locked by calling goroutine")
	ErrNotOwner        = errors.New("mutex not locked by calling goroutine")
	ErrMutexClosed     = errors.New("mutex is destroyed")
	ErrDetached        = errors.New("thread is detached")
	ErrPanic           = errors.New("procedure panicked")
	ErrPoolClosing     = errors.New("thread pool is closing")
	ErrServerRunning   = errors.New("server already running")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind classifies a raised condition.
type Kind int

const (
	// KindMisuse is an operation requested in the wrong state or with bad arguments.
	KindMisuse Kind = iota
	// KindOS is an unexpected failure of an OS call.
	KindOS
	// KindState is a resource state transition surfaced as an error value,
	// e.g. a peer resetting the connection during a write.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindMisuse:
		return "misuse"
	case KindOS:
		return "os"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is a structured failure carrying the originating location and,
// for OS failures, the errno returned by the kernel.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Errno   syscall.Errno
	File    string
	Line    int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Message
	if e.Errno != 0 {
		msg += fmt.Sprintf(" (errno %d: %s)", int(e.Errno), e.Errno.Error())
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the wrapped sentinel or OS error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Location returns "file:line" of the raise site.
func (e *Error) Location() string {
	if e.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", e.File, e.Line)
}

// Relocate records the frame skip levels above its caller as the raise
// site. Helpers that wrap the constructors pass 1 to report their caller.
func (e *Error) Relocate(skip int) *Error {
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	return e
}

// NewMisuse builds a misuse error wrapping sentinel.
func NewMisuse(op string, sentinel error, message string) *Error {
	return newError(KindMisuse, op, message, sentinel)
}

// NewOSError builds an OS failure error. The errno is extracted from err
// when it is (or wraps) a syscall.Errno.
func NewOSError(op, message string, err error) *Error {
	e := newError(KindOS, op, message, err)
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

// NewStateError builds a state-transition error wrapping sentinel.
func NewStateError(op string, sentinel error, message string) *Error {
	return newError(KindState, op, message, sentinel)
}

// IsMisuse reports whether err is a misuse error.
func IsMisuse(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindMisuse
}

// ErrnoOf returns the errno carried by err, or 0.
func ErrnoOf(err error) syscall.Errno {
	var e *Error
	if errors.As(err, &e) && e.Errno != 0 {
		return e.Errno
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

func newError(kind Kind, op, message string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Message: message, Err: err}
	// skip newError and the exported constructor
	if _, file, line, ok := runtime.Caller(2); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	return e
}
