package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decisioncore_pipeline_duration_seconds",
		Help:    "End-to-end orchestration latency per trigger",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
	}, []string{"symbol"})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_pipeline_runs_total",
		Help: "Pipeline invocations by outcome (ok, upstream_error)",
	}, []string{"status"})

	DecisionsBySignal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_decisions_total",
		Help: "Published decisions by final signal",
	}, []string{"signal"})

	GateFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_gate_firings_total",
		Help: "Discipline gate firings by gate name",
	}, []string{"gate"})
)

// Strategist metrics
var (
	StrategistCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_strategist_calls_total",
		Help: "Strategist evaluations by model label",
	}, []string{"model"})

	StrategistFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decisioncore_strategist_fallbacks_total",
		Help: "Evaluations that landed on the rule-based fallback",
	})
)

// Scheduler metrics
var (
	SchedulerInterval = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "decisioncore_scheduler_interval_seconds",
		Help: "Current trigger interval per symbol",
	}, []string{"symbol"})

	SchedulerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_scheduler_skips_total",
		Help: "Scheduler iterations skipped by reason (replay)",
	}, []string{"reason"})
)

// Store and side-effect metrics
var (
	StoreSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decisioncore_store_save_failures_total",
		Help: "Decision saves that failed and were dropped",
	})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decisioncore_notify_failures_total",
		Help: "Notification dispatches that failed and were discarded",
	})

	OutcomesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decisioncore_outcomes_resolved_total",
		Help: "Resolved outcomes by label",
	}, []string{"label"})

	SnapshotSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decisioncore_snapshot_subscribers",
		Help: "Current SSE snapshot subscribers",
	})
)
