package concurrency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-core/core/concurrency"
)

func TestSleepContextCompletes(t *testing.T) {
	remaining, interrupted := concurrency.SleepContext(context.Background(), 10*time.Millisecond)
	assert.False(t, interrupted)
	assert.Zero(t, remaining)
}

func TestSleepContextInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	remaining, interrupted := concurrency.SleepContext(ctx, time.Second)
	assert.True(t, interrupted)
	assert.Greater(t, remaining, 500*time.Millisecond)
}

func TestMillis(t *testing.T) {
	assert.Equal(t, -1, concurrency.Millis(0))
	assert.Equal(t, 1, concurrency.Millis(time.Microsecond))
	assert.Equal(t, 1500, concurrency.Millis(1500*time.Millisecond))
	assert.Equal(t, 1<<31-1, concurrency.Millis(time.Duration(1<<62)))
}
