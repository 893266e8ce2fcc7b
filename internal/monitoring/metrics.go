package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the ingest and pipeline path.
// A single instance is created at startup and shared by the orchestrator and
// the API server; a nil *Metrics is safe to use and records nothing, so unit
// tests do not need a registry.
type Metrics struct {
	SamplesIngested  prometheus.Counter
	AnomaliesFlagged *prometheus.CounterVec
	RunsStarted      prometheus.Counter
	RunsCompleted    prometheus.Counter
	RunsFailed       prometheus.Counter
	PersistFailures  prometheus.Counter
	StageLatency     *prometheus.HistogramVec
}

// NewMetrics creates and registers the fleetsentry metric set on the given
// registerer. Pass prometheus.DefaultRegisterer for the production registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsentry_samples_ingested_total",
			Help: "Telemetry samples accepted by the ingest endpoint.",
		}),
		AnomaliesFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsentry_anomalies_total",
			Help: "Samples classified as anomalous, by component.",
		}, []string{"component"}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsentry_pipeline_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsentry_pipeline_runs_completed_total",
			Help: "Pipeline runs that produced a full aggregate result.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsentry_pipeline_runs_failed_total",
			Help: "Pipeline runs aborted by a generation failure.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsentry_fault_persist_failures_total",
			Help: "Fault records that could not be written to the store.",
		}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetsentry_stage_latency_seconds",
			Help:    "Latency of individual text-generation stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.SamplesIngested, m.AnomaliesFlagged,
		m.RunsStarted, m.RunsCompleted, m.RunsFailed,
		m.PersistFailures, m.StageLatency,
	)
	return m
}

// IncSamplesIngested increments the ingest counter. Safe on a nil receiver.
func (m *Metrics) IncSamplesIngested() {
	if m != nil {
		m.SamplesIngested.Inc()
	}
}

// IncAnomaly increments the anomaly counter for a component. Safe on nil.
func (m *Metrics) IncAnomaly(component string) {
	if m != nil {
		m.AnomaliesFlagged.WithLabelValues(component).Inc()
	}
}

// IncRunsStarted increments the run-start counter. Safe on nil.
func (m *Metrics) IncRunsStarted() {
	if m != nil {
		m.RunsStarted.Inc()
	}
}

// IncRunsCompleted increments the run-completion counter. Safe on nil.
func (m *Metrics) IncRunsCompleted() {
	if m != nil {
		m.RunsCompleted.Inc()
	}
}

// IncRunsFailed increments the run-failure counter. Safe on nil.
func (m *Metrics) IncRunsFailed() {
	if m != nil {
		m.RunsFailed.Inc()
	}
}

// IncPersistFailures increments the persistence-failure counter. Safe on nil.
func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

// ObserveStageLatency records the latency of one generation stage. Safe on nil.
func (m *Metrics) ObserveStageLatency(stage string, seconds float64) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(seconds)
	}
}
