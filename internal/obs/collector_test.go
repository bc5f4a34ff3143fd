package obs

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/internal/schema"
)

func TestCollectorExportsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventFill, time.Millisecond)
	m.IncCommand(schema.OrderActionCreate, true)
	m.IncCommand(schema.OrderActionCancel, false)
	m.IncRiskReason(schema.RiskReasonMaxQty)
	m.ObserveCompare(2*time.Millisecond, true)
	m.IncBreakerTrip()

	srv, err := NewServer(":0", NewCollector(m, func() map[string]int { return map[string]int{"ES": 3} }))
	require.NoError(t, err)

	families, err := srv.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, name := range []string{
		"reconciler_events_total",
		"reconciler_commands_total",
		"reconciler_risk_blocks_total",
		"reconciler_breaker_trips_total",
		"reconciler_compare_seconds",
		"reconciler_queue_length",
	} {
		assert.True(t, names[name], name)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reconciler_commands_total{accepted="false",action="cancel"} 1`)
	assert.Contains(t, string(body), `reconciler_events_total{type="fill"} 1`)
	assert.Contains(t, string(body), `reconciler_queue_length{symbol="ES"} 3`)
}

func TestNilMetricsCollects(t *testing.T) {
	srv, err := NewServer(":0", NewCollector(nil, nil))
	require.NoError(t, err)
	_, err = srv.Registry().Gather()
	require.NoError(t, err)
}

func TestNilMetricsCounters(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncBrokerReject()
		m.IncThrottled()
		m.IncStaleUpdate()
		m.IncExpired()
		m.IncLogicalFill()
		m.IncAdjustmentFill()
		m.IncBreakerTrip()
		m.IncQueueDrop()
		m.IncQueueClosed()
		m.IncRiskReason(schema.RiskReasonKillSwitch)
		m.IncCommand(schema.OrderActionCreate, true)
		m.ObserveCompare(time.Millisecond, true)
		m.ObserveSnapshot(time.Millisecond, 10, nil)
		m.ObserveEvent(schema.EventFill, time.Millisecond)
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
