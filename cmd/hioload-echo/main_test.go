//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/control"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/server"
)

func TestBenchAgainstEchoServer(t *testing.T) {
	t.Cleanup(report.SetReporter(report.NewRecorder()))

	srv := server.New()
	ready := srv.Listening()
	done := make(chan error, 1)
	go func() { done <- srv.Start(echoHandler, 0, "127.0.0.1", 2*time.Second) }()
	<-ready

	cfg := control.DefaultConfig()
	cfg.Pool.Size = 3
	res, err := runBench(cfg, benchPlan{host: "127.0.0.1", port: srv.Port(), conns: 6, messages: 20, size: 100, pin: true})
	require.NoError(t, err)
	assert.Zero(t, res.failed, "first error: %v", res.firstErr)
	assert.Equal(t, int64(6*20*100*2), res.bytes)

	assert.True(t, srv.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunBenchRejectsBadPlan(t *testing.T) {
	_, err := runBench(control.DefaultConfig(), benchPlan{conns: 0, messages: 1, size: 1})
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Cleanup(report.SetReporter(report.NewRecorder()))

	cfg := control.DefaultConfig()
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Metrics.Address = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, control.NewConfigStore(cfg)) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
