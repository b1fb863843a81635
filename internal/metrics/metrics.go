package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lesson_sessions_active",
		Help: "Currently open progress-channel sessions",
	})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_generations_total",
		Help: "Lesson generation runs by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lesson_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lesson_e2e_duration_seconds",
		Help:    "End-to-end latency from request to final response",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	ScriptAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lesson_script_attempts",
		Help:    "Provider calls needed per script",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	VoiceSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_voice_selections_total",
		Help: "Voice picks by fallback tier",
	}, []string{"tier"})

	SynthQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lesson_synth_queue_wait_seconds",
		Help:    "Time spent waiting for a synthesis worker",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	EnrichmentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lesson_enrichments_active",
		Help: "Background vocabulary enrichments in flight",
	})

	EnrichmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesson_enrichments_dropped_total",
		Help: "Enrichment requests dropped because one was already running for the content id",
	})

	SentenceAnnotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_sentence_annotations_total",
		Help: "Per-sentence vocabulary annotations by outcome",
	}, []string{"outcome"})
)
