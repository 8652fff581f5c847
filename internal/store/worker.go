package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormWorkerStore struct {
	engine *Engine
}

// NewWorkerStore returns a GORM-backed WorkerStore.
func NewWorkerStore(e *Engine) WorkerStore {
	return &gormWorkerStore{engine: e}
}

func (s *gormWorkerStore) AddOrUpdate(ctx context.Context, w *Worker) error {
	now := s.engine.Now()
	w.UpdatedAt = now
	err := s.engine.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		UpdateAll: true,
	}).Create(w).Error
	if err != nil {
		return fmt.Errorf("store: workers: add or update: %w", err)
	}
	return nil
}

func (s *gormWorkerStore) Get(ctx context.Context, workerID string) (*Worker, error) {
	var w Worker
	if err := s.engine.DB().WithContext(ctx).First(&w, "worker_id = ?", workerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: workers: get: %w", err)
	}
	return &w, nil
}

func (s *gormWorkerStore) SetOffline(ctx context.Context, workerID string) error {
	err := s.engine.DB().WithContext(ctx).Model(&Worker{}).
		Where("worker_id = ?", workerID).
		Update("status", WorkerOffline).Error
	if err != nil {
		return fmt.Errorf("store: workers: set offline: %w", err)
	}
	return nil
}

func (s *gormWorkerStore) MarkOffline(ctx context.Context, workerID string) error {
	updates := map[string]any{
		"status":                WorkerOffline,
		"capabilities":          StringList{},
		"binaries":              StringList{},
		"paths":                 StringList{},
		"transport":             "",
		"transport_metadata":    map[string]string{},
		"registration_interval": 0,
	}
	err := s.engine.DB().WithContext(ctx).Model(&Worker{}).
		Where("worker_id = ?", workerID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("store: workers: mark offline: %w", err)
	}
	return nil
}

func (s *gormWorkerStore) ListOnline(ctx context.Context) ([]*Worker, error) {
	var ws []*Worker
	if err := s.engine.DB().WithContext(ctx).Where("status = ?", WorkerOnline).Find(&ws).Error; err != nil {
		return nil, fmt.Errorf("store: workers: list online: %w", err)
	}
	return ws, nil
}

// GetStaleWorkers returns online workers whose last_seen predates
// thresholdFactor * registration_interval seconds ago (spec.md §4.4
// step 1). A worker with registration_interval = 0 never goes stale by
// this rule (it has not told us how often it checks in).
func (s *gormWorkerStore) GetStaleWorkers(ctx context.Context, thresholdFactor float64) ([]*Worker, error) {
	var ws []*Worker
	now := s.engine.Now()
	err := s.engine.DB().WithContext(ctx).
		Where("status = ? AND registration_interval > 0 AND last_seen IS NOT NULL", WorkerOnline).
		Find(&ws).Error
	if err != nil {
		return nil, fmt.Errorf("store: workers: get stale workers: %w", err)
	}

	stale := ws[:0]
	for _, w := range ws {
		thresholdSeconds := thresholdFactor * float64(w.RegistrationInterval)
		if w.LastSeen != nil && now.Sub(*w.LastSeen).Seconds() > thresholdSeconds {
			stale = append(stale, w)
		}
	}
	return stale, nil
}

func (s *gormWorkerStore) LoadByWorker(ctx context.Context) (map[string]int, error) {
	type row struct {
		WorkerID string
		Count    int
	}
	var rows []row
	err := s.engine.DB().WithContext(ctx).Model(&Job{}).
		Select("worker_id, count(*) as count").
		Where("status IN ? AND worker_id IS NOT NULL", []string{JobAssigned, JobRunning, JobCanceling}).
		Group("worker_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: workers: load by worker: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.WorkerID] = r.Count
	}
	return out, nil
}
