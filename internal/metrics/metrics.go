// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualify_dispatch_attempts_total",
			Help: "Workflow trigger attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualify_jobs_dispatched_total",
			Help: "Jobs created by the dispatcher by final dispatch status",
		},
		[]string{"source", "status"},
	)

	FilterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualify_filter_decisions_total",
			Help: "Filter chain audit records by filter type and blocked flag",
		},
		[]string{"filter_type", "blocked"},
	)

	CheckOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualify_check_outcomes_total",
			Help: "Checker results by check type and outcome (passed, failed, fail_open, cached)",
		},
		[]string{"check_type", "outcome"},
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qualify_check_duration_seconds",
			Help:    "Checker call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"check_type"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "qualify_batch_duration_seconds",
			Help: "Inbound batch processing duration in seconds",
		},
		[]string{"status"},
	)

	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qualify_batches_in_flight",
			Help: "Inbound batches currently being processed",
		},
	)

	EntitiesUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qualify_entities_upserted_total",
			Help: "Entities written by the batch processor",
		},
	)

	JobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qualify_jobs_reaped_total",
			Help: "Stale jobs failed by the reaper",
		},
	)
)
