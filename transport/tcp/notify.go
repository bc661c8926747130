// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/hioload-core/core/concurrency"
	internal "github.com/momentics/hioload-core/internal/concurrency"
)

// notifyRegistry records which socket owns each notification event.
// It lives for the whole process and is guarded by a single lock.
type notifyRegistry struct {
	mu     sync.Mutex
	owners map[*concurrency.Event]*Socket
}

var notifications = &notifyRegistry{owners: make(map[*concurrency.Event]*Socket)}

// claim binds ev to s unless another socket already owns it.
func (r *notifyRegistry) claim(ev *concurrency.Event, s *Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[ev]; ok && owner != s {
		return false
	}
	r.owners[ev] = s
	return true
}

func (r *notifyRegistry) release(ev *concurrency.Event, s *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[ev] == s {
		delete(r.owners, ev)
	}
}

// notifier signals event each time the kernel reports the socket readable.
// It runs an edge-triggered epoll loop on its own Thread.
type notifier struct {
	fd     int
	event  *concurrency.Event
	poller *internal.LinuxPoller
	thread *concurrency.Thread
}

func startNotifier(fd int, ev *concurrency.Event) (*notifier, error) {
	p, err := internal.NewLinuxPoller(1)
	if err != nil {
		return nil, osFailure("Socket.NotifyReady", "cannot create poller", err)
	}
	if err := p.RegisterFD(fd, internal.EventRead|internal.EventHangup); err != nil {
		p.Close()
		return nil, osFailure("Socket.NotifyReady", fmt.Sprintf("cannot watch fd %d", fd), err)
	}
	n := &notifier{fd: fd, event: ev, poller: p}
	t, err := concurrency.NewThread(n.loop, nil, concurrency.WithName(fmt.Sprintf("sock-notify-%d", fd)))
	if err != nil {
		p.Close()
		return nil, err
	}
	n.thread = t
	return n, nil
}

func (n *notifier) loop(ctx context.Context, _ any) any {
	for ctx.Err() == nil {
		woken, err := n.poller.Wait(-1, func(int, uint32) {
			n.event.Signal()
		})
		if err != nil {
			return err
		}
		if woken {
			return nil
		}
	}
	return nil
}

// stop wakes and joins the notifier thread, then drops the socket from the
// poller and releases it.
func (n *notifier) stop() {
	_ = n.poller.Wake()
	n.thread.Stop()
	_ = n.poller.UnregisterFD(n.fd)
	_ = n.poller.Close()
}
