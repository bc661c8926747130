// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"sync"

	"github.com/eapache/queue"
)

// readBuffer is the socket's internal FIFO: a queue of byte chunks filled
// from the kernel and drained by Read. All access is under mu.
type readBuffer struct {
	mu     sync.Mutex
	chunks *queue.Queue
	off    int // bytes already consumed from the head chunk
	size   int
}

func newReadBuffer() *readBuffer {
	return &readBuffer{chunks: queue.New()}
}

// push appends a copy of p.
func (b *readBuffer) push(p []byte) {
	if len(p) == 0 {
		return
	}
	c := make([]byte, len(p))
	copy(c, p)
	b.mu.Lock()
	b.chunks.Add(c)
	b.size += len(c)
	b.mu.Unlock()
}

// pop moves up to len(dst) bytes into dst. drained runs under the buffer
// lock when the FIFO becomes empty.
func (b *readBuffer) pop(dst []byte, drained func()) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for n < len(dst) && b.chunks.Length() > 0 {
		head := b.chunks.Peek().([]byte)
		c := copy(dst[n:], head[b.off:])
		n += c
		b.off += c
		if b.off == len(head) {
			b.chunks.Remove()
			b.off = 0
		}
	}
	b.size -= n
	if b.size == 0 && drained != nil {
		drained()
	}
	return n
}

func (b *readBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// ifEmpty runs fn under the buffer lock when the FIFO is empty and reports
// whether it was.
func (b *readBuffer) ifEmpty(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size > 0 {
		return false
	}
	fn()
	return true
}

func (b *readBuffer) clear() {
	b.mu.Lock()
	b.chunks = queue.New()
	b.off = 0
	b.size = 0
	b.mu.Unlock()
}
