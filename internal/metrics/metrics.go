// Package metrics exposes Prometheus collectors for detection, approval and
// execution outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

const namespace = "zengin_sync"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	detections        *prometheus.CounterVec
	diffEntries       *prometheus.CounterVec
	approvals         *prometheus.CounterVec
	executions        *prometheus.CounterVec
	entries           *prometheus.CounterVec
	executionDuration prometheus.Histogram
}

// New creates the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		detections: counterVec(reg, "detector", "runs_total",
			"Detection runs by outcome.", "outcome"),
		diffEntries: counterVec(reg, "detector", "diff_entries_total",
			"Detected diff entries by action.", "action"),
		approvals: counterVec(reg, "approval", "actions_total",
			"Approval actions by action id and outcome.", "action", "outcome"),
		executions: counterVec(reg, "executor", "runs_total",
			"Batch executions by outcome.", "outcome"),
		entries: counterVec(reg, "executor", "entries_total",
			"Applied diff entries by result.", "result"),
	}
	m.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "duration_seconds",
		Help:      "Batch execution duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	reg.MustRegister(m.executionDuration)
	return m
}

func counterVec(reg prometheus.Registerer, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	reg.MustRegister(c)
	return c
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDetection records one detection run.
func (m *Metrics) ObserveDetection(outcome string, counts zengin.Counts) {
	m.detections.WithLabelValues(outcome).Inc()
	m.diffEntries.WithLabelValues(string(zengin.ActionCreate)).Add(float64(counts.Creates))
	m.diffEntries.WithLabelValues(string(zengin.ActionUpdate)).Add(float64(counts.Updates))
	m.diffEntries.WithLabelValues(string(zengin.ActionDelete)).Add(float64(counts.Deletes))
}

// ObserveApproval records one inbound approval action.
func (m *Metrics) ObserveApproval(action, outcome string) {
	m.approvals.WithLabelValues(action, outcome).Inc()
}

// ObserveExecution records one batch execution.
func (m *Metrics) ObserveExecution(result *zengin.ExecutionResult, elapsed time.Duration) {
	outcome := "failed"
	if result != nil && result.Success {
		outcome = "completed"
	}
	m.executions.WithLabelValues(outcome).Inc()
	if result != nil {
		m.entries.WithLabelValues("applied").Add(float64(result.ProcessedCount))
		m.entries.WithLabelValues("failed").Add(float64(result.ErrorCount))
	}
	m.executionDuration.Observe(elapsed.Seconds())
}
