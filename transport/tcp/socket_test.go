//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp_test

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/transport/tcp"
)

func quiet(t *testing.T) *report.Recorder {
	t.Helper()
	rec := report.NewRecorder()
	t.Cleanup(report.SetReporter(rec))
	return rec
}

func listen(t *testing.T) (*tcp.Socket, int) {
	t.Helper()
	l := tcp.NewSocket()
	require.NoError(t, l.Listen(0, "127.0.0.1", 0))
	t.Cleanup(func() { l.Close() })
	port, err := l.LocalPort()
	require.NoError(t, err)
	return l, port
}

// connectedPair returns the server and client ends of one loopback connection.
func connectedPair(t *testing.T) (server, client *tcp.Socket) {
	t.Helper()
	l, port := listen(t)

	client = tcp.NewSocket()
	require.NoError(t, client.ConnectTo(port, "127.0.0.1"))
	t.Cleanup(func() { client.Close() })

	timedOut, err := l.WaitForSocketEvent(2 * time.Second)
	require.NoError(t, err)
	require.False(t, timedOut)

	server = tcp.NewSocket()
	require.NoError(t, l.Accept(server))
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestListenAcceptTransitions(t *testing.T) {
	quiet(t)
	l := tcp.NewSocket()
	assert.Equal(t, api.StatusClosed, l.Status())
	require.NoError(t, l.Listen(0, "127.0.0.1", 0))
	defer l.Close()
	assert.Equal(t, api.StatusListening, l.Status())

	ok, err := l.AcceptIsAvailable()
	require.NoError(t, err)
	assert.False(t, ok)

	port, err := l.LocalPort()
	require.NoError(t, err)
	client := tcp.NewSocket()
	require.NoError(t, client.ConnectTo(port, "localhost"))
	defer client.Close()
	assert.Equal(t, api.StatusConnected, client.Status())

	_, err = l.WaitForSocketEvent(2 * time.Second)
	require.NoError(t, err)
	ok, err = l.AcceptIsAvailable()
	require.NoError(t, err)
	assert.True(t, ok)

	dest := tcp.NewSocket()
	assert.Equal(t, api.StatusClosed, dest.Status())
	require.NoError(t, l.Accept(dest))
	defer dest.Close()
	assert.Equal(t, api.StatusConnected, dest.Status())
	assert.Equal(t, api.StatusListening, l.Status())

	addr, err := dest.RemoteAddr()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr)
	remotePort, err := dest.RemotePort()
	require.NoError(t, err)
	clientPort, err := client.LocalPort()
	require.NoError(t, err)
	assert.Equal(t, clientPort, remotePort)

	// accept into a socket that is not closed is misuse
	assert.ErrorIs(t, l.Accept(dest), api.ErrWrongState)
	assert.ErrorIs(t, l.Listen(0, "", 0), api.ErrWrongState)
}

func TestTryAcceptDoesNotBlock(t *testing.T) {
	rec := quiet(t)
	l, port := listen(t)

	dest := tcp.NewSocket()
	ok, err := l.TryAccept(dest)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, api.StatusClosed, dest.Status())
	assert.Empty(t, rec.Fatals())

	client := tcp.NewSocket()
	require.NoError(t, client.ConnectTo(port, "127.0.0.1"))
	defer client.Close()
	require.Eventually(t, func() bool {
		ok, err = l.TryAccept(dest)
		return err != nil || ok
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	defer dest.Close()
	assert.Equal(t, api.StatusConnected, dest.Status())
}

func TestAcceptBlocksUntilConnection(t *testing.T) {
	quiet(t)
	l, port := listen(t)

	dest := tcp.NewSocket()
	defer dest.Close()
	done := make(chan error, 1)
	go func() { done <- l.Accept(dest) }()

	select {
	case err := <-done:
		t.Fatalf("Accept returned with nothing pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	client := tcp.NewSocket()
	require.NoError(t, client.ConnectTo(port, "127.0.0.1"))
	defer client.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after connect")
	}
	assert.Equal(t, api.StatusConnected, dest.Status())
}

func TestCloseUnblocksAccept(t *testing.T) {
	quiet(t)
	l, _ := listen(t)

	done := make(chan error, 1)
	go func() { done <- l.Accept(tcp.NewSocket()) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		// ErrWrongState if the goroutine only reached Accept after Close
		assert.True(t, errors.Is(err, api.ErrSocketClosed) || errors.Is(err, api.ErrWrongState), err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept still blocked after Close")
	}
}

func TestCloseUnblocksWaitForSocketEvent(t *testing.T) {
	quiet(t)
	l, _ := listen(t)

	done := make(chan bool, 1)
	go func() {
		timedOut, _ := l.WaitForSocketEvent(0)
		done <- timedOut
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case timedOut := <-done:
		assert.False(t, timedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter still blocked after Close")
	}
	assert.Equal(t, api.StatusClosed, l.Status())
}

func TestCloseUnblocksBlockingRead(t *testing.T) {
	quiet(t)
	server, _ := connectedPair(t)

	done := make(chan int, 1)
	go func() {
		buf := make([]byte, 10)
		n, _, _ := server.Read(buf)
		done <- n
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after Close")
	}
}

func TestBufferedReadThenRemoteClose(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)

	n, err := client.Write([]byte("12345"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, timedOut, err := server.Read(buf, tcp.Buffered(), tcp.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Equal(t, 5, n)
	assert.Equal(t, "12345", string(buf))
	assert.Equal(t, api.StatusConnected, server.Status())

	require.NoError(t, client.Close())

	n, _, err = server.Read(buf, tcp.Buffered(), tcp.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Less(t, n, 5)
	assert.Equal(t, api.StatusRemoteClosed, server.Status())
}

func TestBufferedDataSurvivesRemoteClose(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)

	_, err := client.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	buf := make([]byte, 4)
	n, _, err := server.Read(buf, tcp.Buffered(), tcp.WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf))

	// the close is seen while two bytes are still queued
	require.Eventually(t, func() bool {
		server.Read(make([]byte, 0), tcp.Buffered())
		return server.Status() == api.StatusRemoteClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, server.BufferedDataLength())

	n, _, err = server.Read(buf, tcp.Buffered())
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestRoundTripChunking(t *testing.T) {
	quiet(t)
	for _, mode := range []struct {
		name string
		opts []tcp.ReadOption
	}{
		{"raw", nil},
		{"buffered", []tcp.ReadOption{tcp.Buffered()}},
	} {
		t.Run(mode.name, func(t *testing.T) {
			server, client := connectedPair(t)

			rng := rand.New(rand.NewSource(7))
			payload := make([]byte, 256*1024)
			rng.Read(payload)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for off := 0; off < len(payload); {
					end := off + 1 + rng.Intn(9000)
					if end > len(payload) {
						end = len(payload)
					}
					if _, err := client.Write(payload[off:end]); err != nil {
						t.Error(err)
						return
					}
					off = end
				}
			}()

			got := make([]byte, 0, len(payload))
			sizes := []int{1, 17, 4096, 333, 65536}
			for i := 0; len(got) < len(payload); i++ {
				want := sizes[i%len(sizes)]
				if rem := len(payload) - len(got); want > rem {
					want = rem
				}
				buf := make([]byte, want)
				n, timedOut, err := server.Read(buf, append(mode.opts, tcp.WithTimeout(5*time.Second))...)
				require.NoError(t, err)
				require.False(t, timedOut)
				got = append(got, buf[:n]...)
			}
			wg.Wait()
			assert.True(t, bytes.Equal(payload, got))
		})
	}
}

func TestReadTimeoutAndJustAvailable(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)

	buf := make([]byte, 8)
	start := time.Now()
	n, timedOut, err := server.Read(buf, tcp.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	n, timedOut, err = server.Read(buf, tcp.JustAvailable())
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Zero(t, n)
	assert.False(t, server.ReadWillNotBlock())

	_, err = client.Write([]byte("xyz"))
	require.NoError(t, err)
	require.Eventually(t, server.ReadWillNotBlock, 2*time.Second, 5*time.Millisecond)
	n, _, err = server.Read(buf, tcp.JustAvailable())
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(buf[:n]))
}

func TestReadFromListeningSocketIsMisuse(t *testing.T) {
	rec := quiet(t)
	l, _ := listen(t)
	_, _, err := l.Read(make([]byte, 4))
	assert.ErrorIs(t, err, api.ErrWrongState)
	assert.True(t, api.IsMisuse(err))
	assert.NotEmpty(t, rec.Fatals())
	var e *api.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "socket.go", e.File)
}

func TestClosedSocketBehaviour(t *testing.T) {
	quiet(t)
	s := tcp.NewSocket()
	n, timedOut, err := s.Read(make([]byte, 4))
	assert.NoError(t, err)
	assert.False(t, timedOut)
	assert.Zero(t, n)

	_, err = s.WaitForSocketEvent(time.Millisecond)
	assert.ErrorIs(t, err, api.ErrSocketClosed)

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrSocketClosed)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestWriteAfterPeerCloseTransitions(t *testing.T) {
	rec := quiet(t)
	server, client := connectedPair(t)
	require.NoError(t, client.Close())

	chunk := bytes.Repeat([]byte("z"), 4096)
	var err error
	for i := 0; i < 200 && err == nil; i++ {
		_, err = server.Write(chunk)
		time.Sleep(5 * time.Millisecond)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrRemoteClosed)
	assert.Equal(t, api.StatusRemoteClosed, server.Status())
	assert.NotEmpty(t, rec.Warnings())
}

func TestConnectToFromRemoteClosedReconnects(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)
	require.NoError(t, server.Close())

	buf := make([]byte, 1)
	_, _, err := client.Read(buf, tcp.WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, api.StatusRemoteClosed, client.Status())

	_, port := listen(t)
	require.NoError(t, client.ConnectTo(port, "127.0.0.1"))
	assert.Equal(t, api.StatusConnected, client.Status())
}

func TestNotifyReadyOwnership(t *testing.T) {
	quiet(t)
	a, client := connectedPair(t)
	b, _ := connectedPair(t)

	ev := concurrency.NewEvent()
	require.NoError(t, a.NotifyReady(ev))
	assert.ErrorIs(t, b.NotifyReady(ev), api.ErrEventOwned)
	assert.ErrorIs(t, a.NotifyReady(concurrency.NewEvent()), api.ErrNotifyInUse)

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	assert.True(t, ev.Wait(2*time.Second), "notification not raised")

	require.NoError(t, a.NotifyReady(nil))
	assert.ErrorIs(t, a.NotifyReady(nil), api.ErrNotifyNotSet)

	require.NoError(t, b.NotifyReady(ev))
	require.NoError(t, b.Close())
	// closing released the event
	require.NoError(t, a.NotifyReady(ev))
	require.NoError(t, a.NotifyReady(nil))
}

func TestNotifyReadyOnListener(t *testing.T) {
	quiet(t)
	l, port := listen(t)
	ev := concurrency.NewEvent()
	require.NoError(t, l.NotifyReady(ev))

	c := tcp.NewSocket()
	require.NoError(t, c.ConnectTo(port, "127.0.0.1"))
	defer c.Close()
	assert.True(t, ev.Wait(2*time.Second))
}

func TestAutoReadBuffering(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)

	require.NoError(t, server.SetAutoReadBuffering(true))
	assert.ErrorIs(t, server.SetAutoReadBuffering(true), api.ErrWrongState)

	_, err := client.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.BufferedDataLength() == 10 }, 2*time.Second, 5*time.Millisecond)

	timedOut, err := server.WaitForSocketEvent(time.Second)
	require.NoError(t, err)
	assert.False(t, timedOut)

	buf := make([]byte, 10)
	n, _, err := server.Read(buf, tcp.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf[:n]))

	// a blocked reader is fed by the background thread
	got := make(chan string, 1)
	go func() {
		b := make([]byte, 3)
		n, _, _ := server.Read(b, tcp.WithTimeout(2*time.Second))
		got <- string(b[:n])
	}()
	time.Sleep(20 * time.Millisecond)
	_, err = client.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", <-got)

	require.NoError(t, server.SetAutoReadBuffering(false))
	assert.ErrorIs(t, server.SetAutoReadBuffering(false), api.ErrWrongState)
}

func TestAutoReadBufferingDetectsRemoteClose(t *testing.T) {
	quiet(t)
	server, client := connectedPair(t)
	require.NoError(t, server.SetAutoReadBuffering(true))

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return server.Status() == api.StatusRemoteClosed
	}, 2*time.Second, 5*time.Millisecond)

	timedOut, err := server.WaitForSocketEvent(time.Second)
	require.NoError(t, err)
	assert.False(t, timedOut)
	require.NoError(t, server.Close())
}

func TestSocketOptions(t *testing.T) {
	quiet(t)
	server, _ := connectedPair(t)
	require.NoError(t, server.SetKeepAlives(true))
	ok, err := server.WriteWillNotBlock()
	require.NoError(t, err)
	assert.True(t, ok)

	l, _ := listen(t)
	assert.ErrorIs(t, l.SetKeepAlives(true), api.ErrWrongState)
}
