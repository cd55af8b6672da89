package metrics_test

import (
	"testing"
	"time"

	"github.com/aretw0/tradedesk/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveTool(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveTool("get_funds", true, 10*time.Millisecond)
	m.ObserveTool("get_funds", false, 10*time.Millisecond)
	m.ObserveTool("get_funds", false, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("get_funds", metrics.OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("get_funds", metrics.OutcomeError)))
}

func TestMetrics_Gauges(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ConnectionOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveTool("x", true, time.Second)
		m.SessionOpened()
		m.SessionClosed()
		m.SessionFailed()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.Message(metrics.KindUser)
	})
}
