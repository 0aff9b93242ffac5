package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the chat and memory paths. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	chatRuns           *prometheus.CounterVec
	chatRunDuration    *prometheus.HistogramVec
	persistFailures    prometheus.Counter
	degradations       *prometheus.CounterVec
	summaries          *prometheus.CounterVec
	summarizeDurations prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chatRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waypoint", Name: "chat_runs_total",
			Help: "Chat runs by capability and outcome.",
		}, []string{"capability", "outcome"}),
		chatRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waypoint", Name: "chat_run_duration_seconds",
			Help:    "Wall time of chat runs.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"capability"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waypoint", Name: "turn_persist_failures_total",
			Help: "Exchanges whose turns could not be saved.",
		}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waypoint", Name: "degraded_dependency_total",
			Help: "Best-effort dependency failures that were absorbed.",
		}, []string{"dependency"}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waypoint", Name: "episodic_summaries_total",
			Help: "Episodic summarization attempts by outcome.",
		}, []string{"outcome"}),
		summarizeDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "waypoint", Name: "episodic_summarize_duration_seconds",
			Help:    "Wall time of episodic summarization.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.chatRuns, m.chatRunDuration, m.persistFailures, m.degradations, m.summaries, m.summarizeDurations)
	return m
}

// ObserveRun records one finished chat run.
func (m *Metrics) ObserveRun(capability, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.chatRuns.WithLabelValues(capability, outcome).Inc()
	m.chatRunDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// PersistFailed counts an exchange lost to a turn-store failure.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// Degraded counts an absorbed best-effort failure.
func (m *Metrics) Degraded(dependency string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(dependency).Inc()
}

// ObserveSummary records one summarization attempt.
func (m *Metrics) ObserveSummary(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(outcome).Inc()
	m.summarizeDurations.Observe(d.Seconds())
}
