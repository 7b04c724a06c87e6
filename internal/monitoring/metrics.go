// Package monitoring holds the Prometheus instrumentation for the plan
// governance core.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP surface
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec

	// Publish pipeline
	PublishTotal  *prometheus.CounterVec
	GateVerdicts  *prometheus.CounterVec
	SolveDuration *prometheus.HistogramVec
	SolveTotal    *prometheus.CounterVec

	// Repair sessions
	RepairSessions *prometheus.CounterVec

	// Contention
	LockContention *prometheus.CounterVec

	// Live stream
	StreamClients prometheus.Gauge
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a caller-supplied registry; tests pass a fresh
// one so repeated registration never panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solvereign_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_http_requests_total",
				Help: "Total HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		PublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_publish_total",
				Help: "Publish attempts by outcome",
			},
			[]string{"outcome"}, // published, blocked, approval_required, frozen, error
		),
		GateVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_gate_verdicts_total",
				Help: "Constraint-rule findings by rule and severity",
			},
			[]string{"rule", "severity"},
		),
		SolveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solvereign_solve_duration_seconds",
				Help:    "Solver run duration",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"result"}, // solved, failed, cancelled
		),
		SolveTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_solve_total",
				Help: "Solver runs by result",
			},
			[]string{"result"},
		),
		RepairSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_repair_sessions_total",
				Help: "Repair session lifecycle outcomes",
			},
			[]string{"outcome"}, // opened, applied, undone, aborted, expired, stale
		),
		LockContention: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solvereign_lock_contention_total",
				Help: "Advisory lock acquisitions refused as busy",
			},
			[]string{"purpose"}, // lifecycle, repair
		),
		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "solvereign_stream_clients",
				Help: "Connected websocket stream clients",
			},
		),
	}
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	m.RequestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordPublish records a publish attempt outcome.
func (m *Metrics) RecordPublish(outcome string) {
	m.PublishTotal.WithLabelValues(outcome).Inc()
}

// RecordGateVerdict records one constraint finding.
func (m *Metrics) RecordGateVerdict(rule, severity string) {
	m.GateVerdicts.WithLabelValues(rule, severity).Inc()
}

// RecordSolve records a solver run.
func (m *Metrics) RecordSolve(result string, elapsed time.Duration) {
	m.SolveDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	m.SolveTotal.WithLabelValues(result).Inc()
}

// RecordRepair records a repair session outcome.
func (m *Metrics) RecordRepair(outcome string) {
	m.RepairSessions.WithLabelValues(outcome).Inc()
}

// RecordLockContention records an advisory-lock busy refusal.
func (m *Metrics) RecordLockContention(purpose string) {
	m.LockContention.WithLabelValues(purpose).Inc()
}

// SetStreamClients updates the connected-client gauge.
func (m *Metrics) SetStreamClients(n int) {
	m.StreamClients.Set(float64(n))
}
