package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// serverMetrics tracks transport-level connection counts. Methods are
// nil-safe so the hub can run without a registry in tests.
type serverMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	upgradeFailures   prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &serverMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinlink_connections_active",
			Help: "Current number of open WebSocket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinlink_connections_total",
			Help: "WebSocket connections accepted since start.",
		}),
		upgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinlink_upgrade_failures_total",
			Help: "HTTP requests that failed the WebSocket upgrade.",
		}),
	}

	reg.MustRegister(m.activeConnections, m.connectionsTotal, m.upgradeFailures)
	return m
}

func (m *serverMetrics) connectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *serverMetrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *serverMetrics) upgradeFailed() {
	if m == nil {
		return
	}
	m.upgradeFailures.Inc()
}
