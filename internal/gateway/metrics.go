// ABOUTME: Prometheus metrics for the realtime gateway
// ABOUTME: Exposes connection counts and event bus counters

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fossabot/derailed/internal/pubsub"
)

// Metrics collects gateway observability counters on its own registry.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds a registry exposing connection and event bus metrics.
func NewMetrics(manager *Manager, bus *pubsub.Bus) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "derailed_gateway_connections",
		Help: "Number of live websocket connections.",
	}, func() float64 {
		return float64(manager.Count())
	}))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "derailed_events_published_total",
		Help: "Events published to the bus.",
	}, func() float64 {
		return float64(bus.Stats().Published)
	}))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "derailed_events_delivered_total",
		Help: "Event deliveries enqueued onto connection queues.",
	}, func() float64 {
		return float64(bus.Stats().Delivered)
	}))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "derailed_events_dropped_total",
		Help: "Events evicted from slow connection queues.",
	}, func() float64 {
		return float64(bus.Stats().Dropped)
	}))

	return &Metrics{registry: reg}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
