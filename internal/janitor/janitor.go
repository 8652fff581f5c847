// Package janitor implements the coordinator's periodic reconciliation
// loop (spec.md §4.4): worker reap, running-job reap, assigned-job reap,
// pending retry/fail, and abandoned-monitored-job reap. It runs on a
// timer independent of request traffic (spec.md §5) and never fails a
// tick permanently — every step's error is logged and the next interval
// still runs (spec.md §7: "The janitor's per-iteration exceptions are
// logged and the loop continues with the next interval").
package janitor

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
	"github.com/brwyatt/dffmpeg-coordinator/internal/scheduler"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// Config holds every threshold and interval spec.md §4.4 and §6
// describe as "configuration-driven".
type Config struct {
	// Interval is the nominal sleep between ticks.
	Interval time.Duration
	// Jitter bounds the +/- randomization applied to Interval; the
	// effective jitter is capped at 0.5*Interval regardless of this
	// value (spec.md §4.4: "interval ± jitter (bounded by
	// min(0.5·interval, jitter))").
	Jitter time.Duration

	// WorkerStaleThreshold is the thresholdFactor multiplying a
	// worker's registration_interval (spec.md §4.4 step 1).
	WorkerStaleThreshold float64
	// RunningStaleThreshold is the thresholdFactor multiplying a job's
	// heartbeat_interval for the running-job reap (spec.md §4.4 step 2).
	RunningStaleThreshold float64
	// AssignmentTimeoutSeconds bounds how long a job may sit assigned
	// before the janitor returns it to pending (spec.md §4.4 step 3).
	AssignmentTimeoutSeconds int
	// PendingRetryDelaySeconds is the minimum pending age before a retry
	// (spec.md §4.4 step 4).
	PendingRetryDelaySeconds int
	// PendingTimeoutSeconds is the pending age at which a job fails
	// outright (spec.md §4.4 step 4).
	PendingTimeoutSeconds int
	// MonitorStaleThreshold is the thresholdFactor multiplying a job's
	// heartbeat_interval for the abandoned-monitored reap (spec.md §4.4
	// step 5).
	MonitorStaleThreshold float64
}

// Janitor runs the spec.md §4.4 reconciliation loop.
type Janitor struct {
	jobs       store.JobStore
	workers    store.WorkerStore
	transports *transport.Registry
	scheduler  *scheduler.Scheduler
	cfg        Config
	log        *zap.Logger
}

// New builds a Janitor.
func New(jobs store.JobStore, workers store.WorkerStore, transports *transport.Registry, sched *scheduler.Scheduler, cfg Config, log *zap.Logger) *Janitor {
	return &Janitor{jobs: jobs, workers: workers, transports: transports, scheduler: sched, cfg: cfg, log: log}
}

// Run blocks, ticking until ctx is canceled (spec.md §5: "cancel the
// janitor task" on shutdown).
func (j *Janitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(j.nextDelay()):
		}
		j.tick(ctx)
	}
}

// nextDelay implements spec.md §4.4's "interval ± jitter (bounded by
// min(0.5·interval, jitter))".
func (j *Janitor) nextDelay() time.Duration {
	jitter := j.cfg.Jitter
	if cap := j.cfg.Interval / 2; jitter > cap {
		jitter = cap
	}
	if jitter <= 0 {
		return j.cfg.Interval
	}
	delta := time.Duration((rand.Float64()*2 - 1) * float64(jitter))
	d := j.cfg.Interval + delta
	if d < 0 {
		return 0
	}
	return d
}

// tick runs one full pass of spec.md §4.4's five steps in sequence. A
// panic in any step is recovered and logged rather than crashing the
// loop, the same "log and continue" contract spec.md §7 specifies for
// ordinary errors.
func (j *Janitor) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.JanitorTickDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			j.log.Error("janitor: recovered panic in tick", zap.Any("panic", r))
		}
	}()

	if err := j.reapWorkers(ctx); err != nil {
		j.log.Warn("janitor: reap workers failed", zap.Error(err))
	}
	if err := j.reapRunningJobs(ctx); err != nil {
		j.log.Warn("janitor: reap running jobs failed", zap.Error(err))
	}
	if err := j.reapAssignedJobs(ctx); err != nil {
		j.log.Warn("janitor: reap assigned jobs failed", zap.Error(err))
	}
	if err := j.retryOrFailPending(ctx); err != nil {
		j.log.Warn("janitor: pending retry/fail failed", zap.Error(err))
	}
	if err := j.reapAbandonedMonitored(ctx); err != nil {
		j.log.Warn("janitor: reap abandoned monitored jobs failed", zap.Error(err))
	}
}
