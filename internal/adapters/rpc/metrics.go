package rpc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics uses a per-server registry so parallel test servers do not
// fight over the default one.
type serverMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keybridge_requests_total",
			Help: "Bridge requests by type and outcome.",
		}, []string{"type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keybridge_request_duration_seconds",
			Help:    "Bridge request latency by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.requests, m.latency)
	return m
}

func (m *serverMetrics) observe(requestType, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(requestType, outcome).Inc()
	m.latency.WithLabelValues(requestType).Observe(elapsed.Seconds())
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
