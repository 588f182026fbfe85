// Package metrics exports context-window decisions as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "contextwindow"

// Recorder implements the context manager's Recorder interface on top of
// Prometheus collectors.
type Recorder struct {
	measurements       *prometheus.CounterVec
	effectiveTokens    prometheus.Histogram
	estimationFailures prometheus.Counter
	reductions         *prometheus.CounterVec
	messagesRemoved    prometheus.Histogram
}

// NewRecorder creates a recorder and registers its collectors with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		measurements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "measurements_total",
				Help:      "Budget measurements, labelled by whether the conversation was over budget",
			},
			[]string{"over_budget"},
		),
		effectiveTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "effective_tokens",
				Help:      "Prior total plus the newest message estimate",
				Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
			},
		),
		estimationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "estimation_failures_total",
				Help:      "Per-message estimates replaced by the penalty cost",
			},
		),
		reductions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "reductions_total",
				Help:      "Finished reduction passes by final path",
			},
			[]string{"path"},
		),
		messagesRemoved: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "messages_removed",
				Help:      "Messages dropped by a reduction pass",
				Buckets:   prometheus.LinearBuckets(0, 2, 10),
			},
		),
	}
}

// ObserveMeasurement records a budget measurement.
func (r *Recorder) ObserveMeasurement(effectiveTokens int, overBudget bool) {
	label := "false"
	if overBudget {
		label = "true"
	}
	r.measurements.WithLabelValues(label).Inc()
	r.effectiveTokens.Observe(float64(effectiveTokens))
}

// ObserveEstimationFailure records a penalized estimate.
func (r *Recorder) ObserveEstimationFailure() {
	r.estimationFailures.Inc()
}

// ObserveReduction records the final path of a pass.
func (r *Recorder) ObserveReduction(path string, messagesRemoved int) {
	r.reductions.WithLabelValues(path).Inc()
	r.messagesRemoved.Observe(float64(messagesRemoved))
}
