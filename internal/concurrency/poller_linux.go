//go:build linux

// internal/concurrency/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Edge-triggered epoll poller with an eventfd wakeup channel.

package concurrency

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Readiness bits a Poller reports.
const (
	EventRead   = unix.EPOLLIN
	EventWrite  = unix.EPOLLOUT
	EventHangup = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
)

// ErrPollerClosed is returned by Wait after Close.
var ErrPollerClosed = errors.New("concurrency: poller closed")

// LinuxPoller is an edge-triggered event demultiplexer using epoll.
// A dedicated eventfd is registered so Wake can interrupt Wait from any goroutine.
type LinuxPoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	closed atomic.Bool
}

// NewLinuxPoller sets up a new epoll-based poller.
func NewLinuxPoller(maxEvents int) (*LinuxPoller, error) {
	if maxEvents <= 0 {
		maxEvents = 8
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return &LinuxPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents+1),
	}, nil
}

// RegisterFD adds a descriptor to the interest set, edge triggered.
func (p *LinuxPoller) RegisterFD(fd int, events uint32) error {
	ev := unix.EpollEvent{
		Events: events | unix.EPOLLET,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// UnregisterFD removes a descriptor.
func (p *LinuxPoller) UnregisterFD(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks up to timeoutMs (-1 = forever) and calls fn for every ready
// descriptor. woken is true when Wake interrupted the wait.
func (p *LinuxPoller) Wait(timeoutMs int, fn func(fd int, events uint32)) (woken bool, err error) {
	if p.closed.Load() {
		return false, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			_, _ = unix.Read(p.wakefd, buf[:])
			woken = true
			continue
		}
		if fn != nil {
			fn(fd, p.events[i].Events)
		}
	}
	return woken, nil
}

// Wake interrupts a concurrent or the next Wait.
func (p *LinuxPoller) Wake() error {
	var one = [8]byte{1}
	_, err := unix.Write(p.wakefd, one[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

// Close releases the epoll and eventfd descriptors.
func (p *LinuxPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(p.epfd)
	if cerr := unix.Close(p.wakefd); err == nil {
		err = cerr
	}
	return err
}
