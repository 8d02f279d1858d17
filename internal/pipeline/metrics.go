package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rbias/crashwatch/internal/podlogs"
)

const metricsNamespace = "crashwatch"

// Metrics holds the Prometheus collectors shared by every pipeline run.
type Metrics struct {
	// EventsTotal counts events read from the stream. Labels: type.
	EventsTotal *prometheus.CounterVec

	// AlertsTotal counts alerts handed to the output boundary. Labels: path.
	AlertsTotal *prometheus.CounterVec

	// SuppressedTotal counts warnings dropped by the dedup cache.
	SuppressedTotal prometheus.Counter

	// DedupErrorsTotal counts cache failures during streaming.
	DedupErrorsTotal prometheus.Counter

	// LogFetchTotal counts log attempts. Labels: instance (current, previous), outcome.
	LogFetchTotal *prometheus.CounterVec

	// AnalysisTotal counts analysis results. Labels: result (success or a failure kind).
	AnalysisTotal *prometheus.CounterVec

	// EventProcessingSeconds measures the time spent on one event.
	EventProcessingSeconds prometheus.Histogram

	// RestartsTotal counts supervisor restarts after stream termination.
	RestartsTotal prometheus.Counter
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Cluster events read from the event stream by type.",
		}, []string{"type"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Alerts delivered by analysis path.",
		}, []string{"path"}),
		SuppressedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "suppressed_total",
			Help:      "Warnings suppressed by the dedup window.",
		}),
		DedupErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dedup_errors_total",
			Help:      "Warnings dropped because the dedup cache failed.",
		}),
		LogFetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_fetch_total",
			Help:      "Pod log attempts by container instance and outcome.",
		}, []string{"instance", "outcome"}),
		AnalysisTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_total",
			Help:      "AI analysis results.",
		}, []string{"result"}),
		EventProcessingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_processing_seconds",
			Help:      "Time spent processing a single event.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		RestartsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "restarts_total",
			Help:      "Pipeline restarts after the event stream terminated.",
		}),
	}
}

// ObserveLogAttempt is a podlogs.Observer.
func (m *Metrics) ObserveLogAttempt(previous bool, outcome podlogs.Outcome) {
	instance := "current"
	if previous {
		instance = "previous"
	}
	m.LogFetchTotal.WithLabelValues(instance, string(outcome)).Inc()
}
