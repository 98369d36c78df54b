package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks relay state and traffic. All methods are nil-safe so the
// service can run without a registry in tests.
type Metrics struct {
	registeredPins   prometheus.Gauge
	activePairs      prometheus.Gauge
	messagesRelayed  prometheus.Counter
	framesHandled    *prometheus.CounterVec
	frameErrors      *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	partnerNotices   prometheus.Counter
	presenceRequests prometheus.Counter
}

// NewMetrics registers the relay collectors with reg. A nil reg falls back
// to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registeredPins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinlink_registered_pins",
			Help: "Current number of PINs with a live connection.",
		}),
		activePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinlink_active_pairs",
			Help: "Current number of linked PIN pairs.",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinlink_messages_relayed_total",
			Help: "Messages appended to history and forwarded to a partner.",
		}),
		framesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinlink_frames_total",
			Help: "Inbound frames handled, by frame type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinlink_frame_errors_total",
			Help: "Inbound frames rejected, by reason.",
		}, []string{"reason"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinlink_frames_dropped_total",
			Help: "Frames silently dropped as no-ops, by reason.",
		}, []string{"reason"}),
		partnerNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinlink_partner_disconnects_total",
			Help: "partner_disconnected notifications delivered.",
		}),
		presenceRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinlink_presence_checks_total",
			Help: "Presence queries answered.",
		}),
	}

	reg.MustRegister(
		m.registeredPins,
		m.activePairs,
		m.messagesRelayed,
		m.framesHandled,
		m.frameErrors,
		m.framesDropped,
		m.partnerNotices,
		m.presenceRequests,
	)
	return m
}

func (m *Metrics) pinRegistered() {
	if m == nil {
		return
	}
	m.registeredPins.Inc()
}

func (m *Metrics) pinRemoved() {
	if m == nil {
		return
	}
	m.registeredPins.Dec()
}

func (m *Metrics) pairFormed() {
	if m == nil {
		return
	}
	m.activePairs.Inc()
}

func (m *Metrics) pairDissolved() {
	if m == nil {
		return
	}
	m.activePairs.Dec()
}

func (m *Metrics) messageRelayed() {
	if m == nil {
		return
	}
	m.messagesRelayed.Inc()
}

func (m *Metrics) frameHandled(frameType string) {
	if m == nil || frameType == "" {
		return
	}
	m.framesHandled.WithLabelValues(frameType).Inc()
}

func (m *Metrics) frameError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) partnerNotified() {
	if m == nil {
		return
	}
	m.partnerNotices.Inc()
}

func (m *Metrics) presenceAnswered() {
	if m == nil {
		return
	}
	m.presenceRequests.Inc()
}
