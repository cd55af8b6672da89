// Package metrics holds the Prometheus collectors shared by the tool server
// and the chat gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for tool calls.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Message kinds counted by the gateway.
const (
	KindUser      = "user"
	KindChunk     = "chunk"
	KindMalformed = "malformed"
	KindError     = "error"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// so library packages can be used without Prometheus.
type Metrics struct {
	ToolCalls          *prometheus.CounterVec
	ToolDuration       *prometheus.HistogramVec
	SessionsActive     prometheus.Gauge
	ConnectionsActive  prometheus.Gauge
	GatewayMessages    *prometheus.CounterVec
	SessionCreateFails prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_tool_calls_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradedesk_tool_duration_seconds",
				Help:    "Duration of tool executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedesk_sessions_active",
			Help: "Number of registered chat sessions",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedesk_gateway_connections_active",
			Help: "Number of open browser connections",
		}),
		GatewayMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_gateway_messages_total",
				Help: "Frames handled by the chat gateway by kind",
			},
			[]string{"kind"},
		),
		SessionCreateFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedesk_session_create_failures_total",
			Help: "Session creations aborted by a connection or handshake failure",
		}),
	}
	reg.MustRegister(
		m.ToolCalls,
		m.ToolDuration,
		m.SessionsActive,
		m.ConnectionsActive,
		m.GatewayMessages,
		m.SessionCreateFails,
	)
	return m
}

// ObserveTool records one tool invocation.
func (m *Metrics) ObserveTool(tool string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// SessionOpened / SessionClosed track the registry size.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// SessionFailed counts an aborted creation.
func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.SessionCreateFails.Inc()
}

// ConnectionOpened / ConnectionClosed track open websockets.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// Message counts a gateway frame of the given kind.
func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.GatewayMessages.WithLabelValues(kind).Inc()
}
