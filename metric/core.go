// Package metric provides the Prometheus metrics registry, the core pipeline
// metrics, and the HTTP exposition server.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics (not component-specific)
type Metrics struct {
	ComponentStatus   *prometheus.GaugeVec
	ChunksProduced    *prometheus.CounterVec
	ChunksProcessed   *prometheus.CounterVec
	CandidatesTotal   *prometheus.CounterVec
	TriggersTotal     prometheus.Counter
	ActionsDispatched *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "l1mock",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component lifecycle state (0=created, 1=initialized, 2=started, 3=stopped, 4=failed)",
			},
			[]string{"component"},
		),

		ChunksProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "chunks",
				Name:      "produced_total",
				Help:      "Total intensity chunks produced by the source",
			},
			[]string{"source"},
		),

		ChunksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "chunks",
				Name:      "processed_total",
				Help:      "Total chunks processed per stage",
			},
			[]string{"stage"},
		),

		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "dedisperse",
				Name:      "candidates_total",
				Help:      "Raw detection candidates emitted per tree",
			},
			[]string{"tree"},
		),

		TriggersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "sift",
				Name:      "triggers_total",
				Help:      "Triggers surviving thresholding and deduplication",
			},
		),

		ActionsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "actions",
				Name:      "dispatched_total",
				Help:      "Trigger deliveries per action and status",
			},
			[]string{"action", "status"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "l1mock",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Per-chunk processing duration by stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "l1mock",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}

// RecordComponentStatus updates a component lifecycle state gauge
func (m *Metrics) RecordComponentStatus(component string, state int) {
	m.ComponentStatus.WithLabelValues(component).Set(float64(state))
}

// RecordChunkProduced increments the source chunk counter
func (m *Metrics) RecordChunkProduced(source string) {
	m.ChunksProduced.WithLabelValues(source).Inc()
}

// RecordChunkProcessed increments the per-stage chunk counter
func (m *Metrics) RecordChunkProcessed(stage string) {
	m.ChunksProcessed.WithLabelValues(stage).Inc()
}

// RecordCandidate increments a tree's candidate counter
func (m *Metrics) RecordCandidate(tree string) {
	m.CandidatesTotal.WithLabelValues(tree).Inc()
}

// RecordTrigger increments the trigger counter
func (m *Metrics) RecordTrigger() {
	m.TriggersTotal.Inc()
}

// RecordActionDispatch increments an action delivery counter
func (m *Metrics) RecordActionDispatch(action, status string) {
	m.ActionsDispatched.WithLabelValues(action, status).Inc()
}

// RecordStageDuration records per-chunk processing time for a stage
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordError increments an error counter
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}
