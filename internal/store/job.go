package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type gormJobStore struct {
	engine *Engine
}

// NewJobStore returns a GORM-backed JobStore.
func NewJobStore(e *Engine) JobStore {
	return &gormJobStore{engine: e}
}

func (s *gormJobStore) Create(ctx context.Context, j *Job) error {
	if err := s.engine.DB().WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("store: jobs: create: %w", err)
	}
	return nil
}

func (s *gormJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if err := s.engine.DB().WithContext(ctx).First(&j, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: jobs: get: %w", err)
	}
	return &j, nil
}

func (s *gormJobStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	q := s.engine.DB().WithContext(ctx).Order("job_id DESC")
	if opts.SinceID != "" {
		q = q.Where("job_id < ?", opts.SinceID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	var js []*Job
	if err := q.Limit(limit).Find(&js).Error; err != nil {
		return nil, fmt.Errorf("store: jobs: list: %w", err)
	}
	return js, nil
}

// CompareAndSwapStatus implements every CAS transition in spec.md
// §4.2-§4.4. The invariant "worker_id set iff status is an
// assignment-or-later status" (spec.md §3) is enforced here: moving to
// JobPending always clears worker_id even if the caller did not ask,
// since pending is never in the worker_id-set set of statuses.
func (s *gormJobStore) CompareAndSwapStatus(ctx context.Context, jobID, expected, next string, fields TransitionFields) (bool, error) {
	at := fields.At
	if at.IsZero() {
		at = s.engine.Now()
	}

	updates := map[string]any{
		"status":      next,
		"last_update": at,
	}
	if next == JobPending || fields.ClearWorkerID {
		updates["worker_id"] = nil
	} else if fields.SetWorkerID != nil {
		updates["worker_id"] = *fields.SetWorkerID
	}
	if fields.ExitCode != nil {
		updates["exit_code"] = *fields.ExitCode
	}

	q := s.engine.DB().WithContext(ctx).Model(&Job{}).Where("job_id = ?", jobID)
	if expected != "" {
		q = q.Where("status = ?", expected)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("store: jobs: compare and swap status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormJobStore) SetWorkerHeartbeat(ctx context.Context, jobID, workerID string, at time.Time) (bool, error) {
	res := s.engine.DB().WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND worker_id = ? AND status IN ?", jobID, workerID, []string{JobAssigned, JobRunning, JobCanceling}).
		Update("worker_last_seen", at)
	if res.Error != nil {
		return false, fmt.Errorf("store: jobs: set worker heartbeat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormJobStore) SetClientHeartbeat(ctx context.Context, jobID string, monitor *bool, at time.Time) (bool, error) {
	updates := map[string]any{"client_last_seen": at}
	if monitor != nil {
		updates["monitor"] = *monitor
	}
	res := s.engine.DB().WithContext(ctx).Model(&Job{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("store: jobs: set client heartbeat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormJobStore) GetStaleRunningJobs(ctx context.Context, thresholdFactor float64) ([]*Job, error) {
	var js []*Job
	err := s.engine.DB().WithContext(ctx).
		Where("status = ? AND worker_last_seen IS NOT NULL", JobRunning).
		Find(&js).Error
	if err != nil {
		return nil, fmt.Errorf("store: jobs: get stale running jobs: %w", err)
	}
	now := s.engine.Now()
	return filterJobs(js, func(j *Job) bool {
		thresholdSeconds := thresholdFactor * float64(j.HeartbeatInterval)
		return j.WorkerLastSeen != nil && now.Sub(*j.WorkerLastSeen).Seconds() > thresholdSeconds
	}), nil
}

func (s *gormJobStore) GetStaleAssignedJobs(ctx context.Context, timeoutSeconds int) ([]*Job, error) {
	cutoff := s.engine.Now().Add(-time.Duration(timeoutSeconds) * time.Second)
	var js []*Job
	err := s.engine.DB().WithContext(ctx).
		Where("status = ? AND last_update < ?", JobAssigned, cutoff).
		Find(&js).Error
	if err != nil {
		return nil, fmt.Errorf("store: jobs: get stale assigned jobs: %w", err)
	}
	return js, nil
}

func (s *gormJobStore) GetStalePendingJobs(ctx context.Context, minSeconds, maxSeconds int) ([]*Job, error) {
	now := s.engine.Now()
	q := s.engine.DB().WithContext(ctx).Where("status = ?", JobPending)
	if minSeconds > 0 {
		q = q.Where("created_at <= ?", now.Add(-time.Duration(minSeconds)*time.Second))
	}
	if maxSeconds > 0 {
		q = q.Where("created_at > ?", now.Add(-time.Duration(maxSeconds)*time.Second))
	}
	var js []*Job
	if err := q.Find(&js).Error; err != nil {
		return nil, fmt.Errorf("store: jobs: get stale pending jobs: %w", err)
	}
	return js, nil
}

func (s *gormJobStore) GetStaleMonitoredJobs(ctx context.Context, thresholdFactor float64) ([]*Job, error) {
	activeStatuses := []string{JobPending, JobAssigned, JobRunning, JobCanceling}
	var js []*Job
	err := s.engine.DB().WithContext(ctx).
		Where("monitor = ? AND status IN ? AND client_last_seen IS NOT NULL", true, activeStatuses).
		Find(&js).Error
	if err != nil {
		return nil, fmt.Errorf("store: jobs: get stale monitored jobs: %w", err)
	}
	now := s.engine.Now()
	return filterJobs(js, func(j *Job) bool {
		thresholdSeconds := thresholdFactor * float64(j.HeartbeatInterval)
		return j.ClientLastSeen != nil && now.Sub(*j.ClientLastSeen).Seconds() > thresholdSeconds
	}), nil
}

func filterJobs(js []*Job, keep func(*Job) bool) []*Job {
	out := js[:0]
	for _, j := range js {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}
