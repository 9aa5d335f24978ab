package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/use-agent/scram/browser"
	"github.com/use-agent/scram/models"
)

var (
	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scram",
		Name:      "fetches_total",
		Help:      "Fetches by mode and outcome code (ok on success).",
	}, []string{"mode", "outcome"})
	metricFetchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scram",
		Name:      "fetch_duration_seconds",
		Help:      "Fetch latency by mode.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
	}, []string{"mode"})
	metricEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scram",
		Name:      "escalations_total",
		Help:      "Auto-mode fetches answered by a rendered tier.",
	})
	metricRenderStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scram",
		Name:      "render_transitions_total",
		Help:      "Rendered fetch state transitions.",
	}, []string{"state"})
	metricInference = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scram",
		Name:      "inference_total",
		Help:      "Inference calls by outcome code.",
	}, []string{"outcome"})
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return models.CodeOf(err)
}

func recordFetch(mode string, start time.Time, err error) {
	metricFetches.WithLabelValues(mode, outcome(err)).Inc()
	metricFetchSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func recordRenderTransition(_ string, s browser.State) {
	metricRenderStates.WithLabelValues(s.String()).Inc()
}

func recordInference(err error) {
	metricInference.WithLabelValues(outcome(err)).Inc()
}
