// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics registry for services, with Go runtime and process
// collectors preinstalled.

package control

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-core/api"
)

// MetricsRegistry tracks service metrics registered with a private
// Prometheus registry, keyed by "<service>.<metric>".
type MetricsRegistry struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	registered map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with Go and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsRegistry{
		registry:   reg,
		registered: make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry returns the underlying Prometheus registry, for
// components that register their own collectors.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RegisterCounter registers a counter for a service.
func (r *MetricsRegistry) RegisterCounter(service, name string, c prometheus.Counter) error {
	return r.register("RegisterCounter", service, name, c)
}

// RegisterGauge registers a gauge for a service.
func (r *MetricsRegistry) RegisterGauge(service, name string, g prometheus.Gauge) error {
	return r.register("RegisterGauge", service, name, g)
}

// RegisterHistogram registers a histogram for a service.
func (r *MetricsRegistry) RegisterHistogram(service, name string, h prometheus.Histogram) error {
	return r.register("RegisterHistogram", service, name, h)
}

// RegisterGaugeFunc registers a gauge sampled from fn at scrape time.
func (r *MetricsRegistry) RegisterGaugeFunc(service, name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	return r.register("RegisterGaugeFunc", service, name, g)
}

func (r *MetricsRegistry) register(op, service, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := service + "." + name
	if _, exists := r.registered[key]; exists {
		return api.NewMisuse("MetricsRegistry."+op, api.ErrInvalidArgument,
			fmt.Sprintf("metric %s already registered for service %s", name, service))
	}
	if err := r.registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return api.NewMisuse("MetricsRegistry."+op, api.ErrInvalidArgument,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return fmt.Errorf("register %s: %w", key, err)
	}
	r.registered[key] = c
	return nil
}

// Unregister removes a service metric. It reports whether one was removed.
func (r *MetricsRegistry) Unregister(service, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := service + "." + name
	c, ok := r.registered[key]
	if !ok {
		return false
	}
	delete(r.registered, key)
	return r.registry.Unregister(c)
}
