package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.RecordRequest("GET", "/plans/{id}", 200, 12*time.Millisecond)
	m.RecordRequest("GET", "/plans/{id}", 200, 20*time.Millisecond)
	m.RecordPublish("published")
	m.RecordGateVerdict("OVERLAP", "BLOCK")
	m.RecordSolve("SOLVED", 300*time.Millisecond)
	m.RecordRepair("opened")
	m.RecordRepair("applied")
	m.RecordLockContention("publish")
	m.SetStreamClients(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.RequestTotal.WithLabelValues("GET", "/plans/{id}", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.PublishTotal.WithLabelValues("published")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.GateVerdicts.WithLabelValues("OVERLAP", "BLOCK")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RepairSessions.WithLabelValues("opened")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.LockContention.WithLabelValues("publish")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.StreamClients))
}

func TestFreshRegistriesDoNotCollide(t *testing.T) {
	// Each test wiring gets its own registry; constructing twice must not
	// panic on duplicate registration.
	require.NotPanics(t, func() {
		NewMetricsWith(prometheus.NewRegistry())
		NewMetricsWith(prometheus.NewRegistry())
	})
}
