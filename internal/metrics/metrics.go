// Package metrics holds the Prometheus collectors for the voice survey server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicesurvey"

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// turnsTotal counts answered conversation turns by outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"status"}, // success, retry
	)

	transcriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription requests",
		},
		[]string{"status"},
	)

	transcriptionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcription requests in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of utterances taken off the speech queue",
		},
		[]string{"status"}, // success, error, cancelled
	)

	answersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Total number of submitted answers",
		},
		[]string{"response_type", "matched"},
	)

	voiceSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Number of open voice conversation sessions",
		},
	)

	surveysCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surveys_completed_total",
			Help:      "Total number of surveys marked completed",
		},
	)

	allMetrics = []prometheus.Collector{
		turnsTotal,
		transcriptionsTotal,
		transcriptionDuration,
		utterancesTotal,
		answersTotal,
		voiceSessionsActive,
		surveysCompletedTotal,
	}

	registry = newRegistry()
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordTurn records the outcome of one answer turn
func RecordTurn(status string) {
	turnsTotal.WithLabelValues(status).Inc()
}

// RecordTranscription records a transcription call
func RecordTranscription(status string, durationSeconds float64) {
	transcriptionsTotal.WithLabelValues(status).Inc()
	transcriptionDuration.Observe(durationSeconds)
}

// RecordUtterance records one utterance leaving the speech queue
func RecordUtterance(status string) {
	utterancesTotal.WithLabelValues(status).Inc()
}

// RecordAnswer records a stored answer and whether it mapped to a canonical value
func RecordAnswer(responseType string, matched bool) {
	m := "false"
	if matched {
		m = "true"
	}
	answersTotal.WithLabelValues(responseType, m).Inc()
}

// SessionOpened tracks a new voice session
func SessionOpened() {
	voiceSessionsActive.Inc()
}

// SessionClosed tracks a finished voice session
func SessionClosed() {
	voiceSessionsActive.Dec()
}

// RecordCompletion counts a completed survey response
func RecordCompletion() {
	surveysCompletedTotal.Inc()
}
