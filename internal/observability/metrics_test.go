package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordActionCounts(t *testing.T) {
	m := NewMetrics()
	m.RecordAction("close", "ok", 10*time.Millisecond)
	m.RecordAction("close", "ok", 10*time.Millisecond)
	m.RecordAction("close", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionsTotal.WithLabelValues("close", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsTotal.WithLabelValues("close", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordAction("create", "ok", 0)
	m.RecordEvent("ticket_created")
	m.RecordRequest("/health/live", "GET", "200", 0)
	m.RecordSweep()
}
