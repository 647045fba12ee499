package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers report generation and the registry lifecycle.
// Methods are safe on a nil receiver so tests can omit metrics.
type Metrics struct {
	DraftsGenerated     prometheus.Counter
	GenerationFailures  *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	DraftCacheHits      prometheus.Counter
	ReportsSaved        prometheus.Counter
	ReportsDeduplicated prometheus.Counter
	AnchorTransitions   *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DraftsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "civicproof_report_drafts_generated_total",
			Help: "Report drafts produced by the synthesizer",
		}),
		GenerationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicproof_report_generation_failures_total",
			Help: "Failed report generations by reason",
		}, []string{"reason"}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicproof_report_generation_duration_seconds",
			Help:    "Duration of report text generation including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		DraftCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "civicproof_report_draft_cache_hits_total",
			Help: "Drafts served from the snapshot cache instead of the model",
		}),
		ReportsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "civicproof_reports_saved_total",
			Help: "Reports persisted by the registry",
		}),
		ReportsDeduplicated: f.NewCounter(prometheus.CounterOpts{
			Name: "civicproof_reports_deduplicated_total",
			Help: "Saves that returned an existing report for the same snapshot",
		}),
		AnchorTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicproof_report_anchor_transitions_total",
			Help: "Anchor status transitions by target status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncDraftGenerated() {
	if m == nil {
		return
	}
	m.DraftsGenerated.Inc()
}

func (m *Metrics) IncGenerationFailure(reason string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(reason).Inc()
}

// ObserveGeneration records generation latency. Call with the start time.
func (m *Metrics) ObserveGeneration(start time.Time) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncDraftCacheHit() {
	if m == nil {
		return
	}
	m.DraftCacheHits.Inc()
}

func (m *Metrics) IncReportSaved(deduplicated bool) {
	if m == nil {
		return
	}
	if deduplicated {
		m.ReportsDeduplicated.Inc()
		return
	}
	m.ReportsSaved.Inc()
}

func (m *Metrics) IncAnchorTransition(status string) {
	if m == nil {
		return
	}
	m.AnchorTransitions.WithLabelValues(status).Inc()
}
