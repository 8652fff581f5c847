package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
	"github.com/brwyatt/dffmpeg-coordinator/internal/scheduler"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// reapWorkers implements spec.md §4.4 step 1.
func (j *Janitor) reapWorkers(ctx context.Context) error {
	stale, err := j.workers.GetStaleWorkers(ctx, j.cfg.WorkerStaleThreshold)
	if err != nil {
		return err
	}
	for _, w := range stale {
		if err := j.workers.MarkOffline(ctx, w.WorkerID); err != nil {
			j.log.Warn("janitor: mark worker offline failed", zap.String("worker_id", w.WorkerID), zap.Error(err))
			continue
		}
		metrics.JanitorReapsTotal.WithLabelValues("reap_workers").Inc()
	}

	online, err := j.workers.ListOnline(ctx)
	if err != nil {
		return err
	}
	metrics.WorkersOnline.Set(float64(len(online)))
	return nil
}

// reapRunningJobs implements spec.md §4.4 step 2: stale running jobs
// fail, and both requester and worker are notified.
func (j *Janitor) reapRunningJobs(ctx context.Context) error {
	stale, err := j.jobs.GetStaleRunningJobs(ctx, j.cfg.RunningStaleThreshold)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range stale {
		ok, err := j.jobs.CompareAndSwapStatus(ctx, job.JobID, store.JobRunning, store.JobFailed, store.TransitionFields{At: now})
		if err != nil {
			j.log.Warn("janitor: CAS running->failed failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		if !ok {
			continue // someone else already moved it
		}
		j.notifyStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobFailed, nil)
		if job.WorkerID != nil {
			j.notifyWorker(ctx, job, *job.WorkerID, store.JobFailed, nil)
		}
		metrics.JanitorReapsTotal.WithLabelValues("reap_running_jobs").Inc()
	}
	return nil
}

// reapAssignedJobs implements spec.md §4.4 step 3: an assignment that
// sat too long returns to pending, and the previously-assigned worker
// is told to discard the task. Per spec.md §9's documented open
// question, the message sent is job_status(canceled) even though the
// job itself is not canceled — the worker is expected to treat this
// advisorily.
func (j *Janitor) reapAssignedJobs(ctx context.Context) error {
	stale, err := j.jobs.GetStaleAssignedJobs(ctx, j.cfg.AssignmentTimeoutSeconds)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range stale {
		previousWorker := job.WorkerID
		ok, err := j.jobs.CompareAndSwapStatus(ctx, job.JobID, store.JobAssigned, store.JobPending, store.TransitionFields{ClearWorkerID: true, At: now})
		if err != nil {
			j.log.Warn("janitor: CAS assigned->pending failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if previousWorker != nil {
			j.notifyWorker(ctx, job, *previousWorker, store.JobCanceled, nil)
		}
		metrics.JanitorReapsTotal.WithLabelValues("reap_assigned_jobs").Inc()
	}
	return nil
}

// retryOrFailPending implements spec.md §4.4 step 4.
func (j *Janitor) retryOrFailPending(ctx context.Context) error {
	retryable, err := j.jobs.GetStalePendingJobs(ctx, j.cfg.PendingRetryDelaySeconds, j.cfg.PendingTimeoutSeconds)
	if err != nil {
		return err
	}
	for _, job := range retryable {
		if err := j.scheduler.Assign(ctx, job.JobID); err != nil {
			j.log.Warn("janitor: pending retry assign failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		metrics.JanitorReapsTotal.WithLabelValues("retry_pending").Inc()
	}

	expired, err := j.jobs.GetStalePendingJobs(ctx, j.cfg.PendingTimeoutSeconds, 0)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range expired {
		ok, err := j.jobs.CompareAndSwapStatus(ctx, job.JobID, store.JobPending, store.JobFailed, store.TransitionFields{At: now})
		if err != nil {
			j.log.Warn("janitor: CAS pending->failed failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		j.notifyStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobFailed, nil)
		metrics.JanitorReapsTotal.WithLabelValues("fail_pending").Inc()
	}
	return nil
}

// reapAbandonedMonitored implements spec.md §4.4 step 5.
func (j *Janitor) reapAbandonedMonitored(ctx context.Context) error {
	stale, err := j.jobs.GetStaleMonitoredJobs(ctx, j.cfg.MonitorStaleThreshold)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range stale {
		ok, err := j.jobs.CompareAndSwapStatus(ctx, job.JobID, job.Status, store.JobCanceling, store.TransitionFields{At: now})
		if err != nil {
			j.log.Warn("janitor: CAS ->canceling failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		j.notifyStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobCanceling, nil)
		if job.WorkerID != nil {
			j.notifyWorker(ctx, job, *job.WorkerID, store.JobCanceling, nil)
		}
		metrics.JanitorReapsTotal.WithLabelValues("reap_abandoned_monitored").Inc()
	}
	return nil
}

func jobBinding(job *store.Job) *transport.RecipientBinding {
	return &transport.RecipientBinding{Transport: job.Transport, Metadata: job.TransportMetadata}
}

func (j *Janitor) notifyStatus(ctx context.Context, job *store.Job, recipientID string, binding *transport.RecipientBinding, status string, exitCode *int) {
	payload := scheduler.JobStatusPayload{Status: status, ExitCode: exitCode, LastUpdate: time.Now().UTC()}
	if err := j.transports.Dispatch(ctx, &store.Message{RecipientID: recipientID, JobID: job.JobID}, "coordinator", store.MessageJobStatus, payload, binding); err != nil {
		j.log.Warn("janitor: dispatch job_status failed", zap.String("job_id", job.JobID), zap.String("recipient_id", recipientID), zap.Error(err))
	}
}

// notifyWorker looks up a worker's own transport binding to notify it
// directly, since a worker's binding lives on the worker row, not the
// job row.
func (j *Janitor) notifyWorker(ctx context.Context, job *store.Job, workerID string, status string, exitCode *int) {
	w, err := j.workers.Get(ctx, workerID)
	if err != nil {
		j.log.Debug("janitor: worker lookup failed, skipping notification", zap.String("worker_id", workerID), zap.Error(err))
		return
	}
	j.notifyStatus(ctx, job, w.WorkerID, &transport.RecipientBinding{Transport: w.Transport, Metadata: w.TransportMetadata}, status, exitCode)
}
