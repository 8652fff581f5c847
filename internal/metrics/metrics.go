// Package metrics defines the coordinator's Prometheus instrumentation
// and exposes it over /metrics (spec.md §2's ambient operational
// surface; SPEC_FULL.md's supplemented "Prometheus /metrics" feature).
// Metrics are package-level variables registered at init, mirroring the
// pack's cuemby-warren metrics package: no runtime registration, safe
// for concurrent use from any component that imports this package.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkersOnline tracks the current online worker count (internal/store
	// WorkerStore.ListOnline, sampled by the janitor each tick).
	WorkersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dffmpeg_coordinator_workers_online",
		Help: "Current number of workers with status=online",
	})

	// JobsSubmittedTotal counts every successful Submit call.
	JobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dffmpeg_coordinator_jobs_submitted_total",
		Help: "Total number of jobs submitted",
	})

	// JobsTerminalTotal counts jobs reaching a terminal status, by status.
	JobsTerminalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dffmpeg_coordinator_jobs_terminal_total",
		Help: "Total number of jobs reaching a terminal status, by status",
	}, []string{"status"})

	// SchedulerAssignDuration times Scheduler.Assign end to end.
	SchedulerAssignDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dffmpeg_coordinator_scheduler_assign_duration_seconds",
		Help:    "Time taken by Scheduler.Assign, including a failed placement search",
		Buckets: prometheus.DefBuckets,
	})

	// JanitorTickDuration times a full janitor.tick invocation.
	JanitorTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dffmpeg_coordinator_janitor_tick_duration_seconds",
		Help:    "Time taken by a single janitor reconciliation tick",
		Buckets: prometheus.DefBuckets,
	})

	// JanitorReapsTotal counts janitor corrective actions, by step.
	JanitorReapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dffmpeg_coordinator_janitor_reaps_total",
		Help: "Total number of janitor corrective actions, by step",
	}, []string{"step"})

	// HTTPRequestDuration times every HTTP request, by route and status.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dffmpeg_coordinator_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(
		WorkersOnline,
		JobsSubmittedTotal,
		JobsTerminalTotal,
		SchedulerAssignDuration,
		JanitorTickDuration,
		JanitorReapsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
