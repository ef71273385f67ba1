// Package metrics exposes the WebSocket runtime's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Drop reasons.
const (
	DropRateLimited = "rate_limited"
	DropSlowClient  = "slow_client"
)

// Metrics holds the runtime collectors on a private registry so several
// runtimes (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// ConnectionsActive is the number of open WebSocket connections.
	ConnectionsActive prometheus.Gauge
	// ConnectionsTotal counts accepted WebSocket upgrades.
	ConnectionsTotal prometheus.Counter
	// Messages counts relayed messages by direction.
	Messages *prometheus.CounterVec
	// Dropped counts messages that were not delivered, by reason.
	Dropped *prometheus.CounterVec
	// CertReloads counts TLS key pair reloads by result (ok|error).
	CertReloads *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wsserver_connections_active",
			Help: "Number of open WebSocket connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsserver_connections_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_messages_total",
			Help: "Total number of WebSocket messages by direction",
		}, []string{"direction"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_messages_dropped_total",
			Help: "Total number of WebSocket messages dropped by reason",
		}, []string{"reason"}),
		CertReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_cert_reloads_total",
			Help: "Total number of TLS certificate reload attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.Messages,
		m.Dropped,
		m.CertReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CertReloaded records the outcome of a certificate reload.
func (m *Metrics) CertReloaded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CertReloads.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
