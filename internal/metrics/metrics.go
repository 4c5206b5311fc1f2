package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecaller_calls_active",
		Help: "Sessions currently held in the session store",
	})

	CallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecaller_calls_total",
		Help: "Total call sessions created",
	})

	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_calls_ended_total",
		Help: "Sessions removed, by terminal status or eviction reason",
	}, []string{"reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telecaller_stage_duration_seconds",
		Help:    "Per-stage latency (knowledge, llm, fallback, turn)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_answers_total",
		Help: "Answers produced, by the responder that resolved them",
	}, []string{"source"})

	ResponsesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecaller_responses_active",
		Help: "Active responses registered with the player",
	})

	ChunksPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecaller_chunks_played_total",
		Help: "Response chunks handed to a transport",
	})

	Interruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_interruptions_total",
		Help: "Interrupt attempts by outcome (accepted, rejected, unknown)",
	}, []string{"outcome"})

	LowConfidence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecaller_low_confidence_total",
		Help: "Utterances re-prompted for empty text or low recognition confidence",
	})

	SweepEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_sweep_evictions_total",
		Help: "Entries evicted by the cleanup sweeper",
	}, []string{"kind"})

	ArchiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecaller_archive_writes_total",
		Help: "Archive writes by result",
	}, []string{"result"})
)
