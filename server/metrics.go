// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	accepted  prometheus.Counter
	active    prometheus.Gauge
	collected prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer, prefix string) (m *serverMetrics, err error) {
	m = &serverMetrics{}
	if m.accepted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_connections_accepted_total",
		Help: "Total number of accepted connections",
	})); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_connections_active",
		Help: "Number of connection threads not yet collected",
	})); err != nil {
		return nil, err
	}
	if m.collected, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_connections_collected_total",
		Help: "Total number of finished connection threads joined by the collector",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

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
