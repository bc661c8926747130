// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// poolMetrics holds Prometheus metrics for thread pool monitoring.
type poolMetrics struct {
	workers   prometheus.Gauge
	busy      prometheus.Gauge
	submitted prometheus.Counter
	completed prometheus.Counter
	panics    prometheus.Counter
	duration  prometheus.Histogram
}

func newPoolMetrics(reg prometheus.Registerer, prefix string) (m *poolMetrics, err error) {
	m = &poolMetrics{}
	if m.workers, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_workers",
		Help: "Number of worker threads in the pool",
	})); err != nil {
		return nil, err
	}
	if m.busy, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_busy_workers",
		Help: "Number of workers currently running a job",
	})); err != nil {
		return nil, err
	}
	if m.submitted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_jobs_submitted_total",
		Help: "Total number of jobs submitted",
	})); err != nil {
		return nil, err
	}
	if m.completed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_jobs_completed_total",
		Help: "Total number of jobs that returned",
	})); err != nil {
		return nil, err
	}
	if m.panics, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_job_panics_total",
		Help: "Total number of jobs that panicked",
	})); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    prefix + "_job_duration_seconds",
		Help:    "Job execution time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. When an equal collector is already registered,
// for instance by an earlier pool with the same prefix, that one is returned.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
