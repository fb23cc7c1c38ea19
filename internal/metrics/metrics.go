// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts jobs that entered the running state.
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_started_total",
		Help: "Jobs moved from pending to running.",
	})

	// JobsFinished counts terminal jobs by outcome state.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_finished_total",
		Help: "Jobs that reached a terminal state.",
	}, []string{"state"})

	// WorkerInvocations counts worker process launches by phase and outcome.
	WorkerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_worker_invocations_total",
		Help: "Worker invocations by orchestration phase and outcome.",
	}, []string{"phase", "outcome"})

	// ItemsRetried counts work items pushed into the retry queue.
	ItemsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_items_retried_total",
		Help: "Work items scheduled for individual retry.",
	})

	// ItemsHardFailed counts work items that exhausted their retry budget.
	ItemsHardFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_items_hard_failed_total",
		Help: "Work items that permanently failed.",
	})

	// InvocationDuration observes wall-clock worker invocation time.
	InvocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_worker_invocation_seconds",
		Help:    "Worker invocation duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)
