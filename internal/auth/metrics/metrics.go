// Package metrics defines the Prometheus collectors for the auth service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tillauth"

type Metrics struct {
	Registry *prometheus.Registry

	tokensIssued     *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	rotations        *prometheus.CounterVec
	ceremonies       *prometheus.CounterVec
	replaySuspected  prometheus.Counter
	auditDropped     prometheus.Counter
	auditSinkFailed  prometheus.Counter
	housekeepingRows *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued, by kind.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh token redemptions, by result.",
		}, []string{"result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rotations_total",
			Help:      "Device session rotations, by result.",
		}, []string{"result"}),
		ceremonies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webauthn_ceremonies_total",
			Help:      "WebAuthn ceremonies completed, by kind and result.",
		}, []string{"kind", "result"}),
		replaySuspected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webauthn_replay_suspected_total",
			Help:      "Assertions rejected because the signature counter did not advance.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the queue was full.",
		}),
		auditSinkFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_failures_total",
			Help:      "Audit events the sink failed to write.",
		}),
		housekeepingRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_deleted_total",
			Help:      "Rows removed by housekeeping, by table.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.tokensIssued, m.refreshes, m.rotations, m.ceremonies,
		m.replaySuspected, m.auditDropped, m.auditSinkFailed, m.housekeepingRows,
	)
	return m
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) Refresh(ok bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Rotation(ok bool) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Ceremony(kind string, ok bool) {
	if m == nil {
		return
	}
	m.ceremonies.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) ReplaySuspected() {
	if m == nil {
		return
	}
	m.replaySuspected.Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) AuditSinkFailed() {
	if m == nil {
		return
	}
	m.auditSinkFailed.Inc()
}

func (m *Metrics) HousekeepingDeleted(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.housekeepingRows.WithLabelValues(table).Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
