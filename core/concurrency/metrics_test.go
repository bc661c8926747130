package concurrency

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewThreadPool(2, WithPoolMetrics(reg, "test_pool"))
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.SubmitJob(func(any) {}, nil))
	}
	p.WaitForIdle()

	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.workers))
	assert.Equal(t, float64(0), testutil.ToFloat64(p.metrics.busy))
	assert.Equal(t, float64(5), testutil.ToFloat64(p.metrics.submitted))
	assert.Equal(t, float64(5), testutil.ToFloat64(p.metrics.completed))

	n, err := testutil.GatherAndCount(reg, "test_pool_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPoolMetricsSharedPrefix(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewThreadPool(1, WithPoolMetrics(reg, "shared"))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewThreadPool(1, WithPoolMetrics(reg, "shared"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SubmitJob(func(any) {}, nil))
	require.NoError(t, b.SubmitJob(func(any) {}, nil))
	a.WaitForIdle()
	b.WaitForIdle()
	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.submitted))
}
