// Package metrics holds the Prometheus instruments for the governance pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built in
// tests without a registry.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dataguard"

type Metrics struct {
	Verdicts        *prometheus.CounterVec
	CheckDegraded   *prometheus.CounterVec
	RiskWarnings    *prometheus.CounterVec
	AuditRecords    *prometheus.CounterVec
	AuditFailures   prometheus.Counter
	AuditPending    prometheus.Gauge
	LogAppendBytes  *prometheus.CounterVec
	LogRotations    *prometheus.CounterVec
	SinkWrites      *prometheus.CounterVec
	SinkWriteTiming prometheus.Histogram
	Alerts          *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "verdicts_total",
			Help:      "Validation verdicts by entity type, operation and result.",
		}, []string{"entity_type", "operation", "result"}),
		CheckDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "checks_degraded_total",
			Help:      "Remote checks downgraded to warnings because the record store was unavailable.",
		}, []string{"check"}),
		RiskWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "warnings_total",
			Help:      "Predictive risk warnings by pattern and level.",
		}, []string{"pattern", "level"}),
		AuditRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Audit records emitted by operation.",
		}, []string{"operation"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Audit records that could not be completed and were deferred.",
		}),
		AuditPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "pending",
			Help:      "Audit events waiting for retry.",
		}),
		LogAppendBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logstore",
			Name:      "append_bytes_total",
			Help:      "Bytes appended to log streams by category.",
		}, []string{"category"}),
		LogRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logstore",
			Name:      "rotations_total",
			Help:      "Log stream rotations by category.",
		}, []string{"category"}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Durable sink writes by result.",
		}, []string{"result"}),
		SinkWriteTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_duration_seconds",
			Help:      "Durable sink write latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "raised_total",
			Help:      "Last-resort operator alerts by kind.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route pattern and status class.",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Verdicts,
			m.CheckDegraded,
			m.RiskWarnings,
			m.AuditRecords,
			m.AuditFailures,
			m.AuditPending,
			m.LogAppendBytes,
			m.LogRotations,
			m.SinkWrites,
			m.SinkWriteTiming,
			m.Alerts,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}

func (m *Metrics) Verdict(entityType, operation string, valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Verdicts.WithLabelValues(entityType, operation, result).Inc()
}

func (m *Metrics) Degraded(check string) {
	if m == nil {
		return
	}
	m.CheckDegraded.WithLabelValues(check).Inc()
}

func (m *Metrics) RiskWarning(pattern, level string) {
	if m == nil {
		return
	}
	m.RiskWarnings.WithLabelValues(pattern, level).Inc()
}

func (m *Metrics) AuditRecord(operation string) {
	if m == nil {
		return
	}
	m.AuditRecords.WithLabelValues(operation).Inc()
}

func (m *Metrics) AuditFailure(pending int) {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
	m.AuditPending.Set(float64(pending))
}

func (m *Metrics) SetAuditPending(pending int) {
	if m == nil {
		return
	}
	m.AuditPending.Set(float64(pending))
}

func (m *Metrics) Appended(category string, n int) {
	if m == nil {
		return
	}
	m.LogAppendBytes.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) Rotated(category string) {
	if m == nil {
		return
	}
	m.LogRotations.WithLabelValues(category).Inc()
}

func (m *Metrics) SinkWrite(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SinkWrites.WithLabelValues(result).Inc()
	m.SinkWriteTiming.Observe(seconds)
}

func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(kind).Inc()
}

// HTTPRequest records one served request. Statuses are bucketed by class
// ("2xx", "4xx") to keep the label set small.
func (m *Metrics) HTTPRequest(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
