package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job

	staleRunning   []*store.Job
	staleAssigned  []*store.Job
	stalePendingLo []*store.Job // returned when maxSeconds > 0 (retry window)
	stalePendingHi []*store.Job // returned when maxSeconds <= 0 (fail window)
	staleMonitored []*store.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*store.Job)}
}

func (f *fakeJobStore) put(j *store.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.JobID] = &cp
}

func (f *fakeJobStore) Create(ctx context.Context, j *store.Job) error { f.put(j); return nil }

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobStore) List(ctx context.Context, opts store.ListOptions) ([]*store.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) CompareAndSwapStatus(ctx context.Context, jobID, expected, next string, fields store.TransitionFields) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if j.Status != expected {
		return false, nil
	}
	j.Status = next
	if fields.SetWorkerID != nil {
		v := *fields.SetWorkerID
		j.WorkerID = &v
	}
	if fields.ClearWorkerID {
		j.WorkerID = nil
	}
	if fields.ExitCode != nil {
		v := *fields.ExitCode
		j.ExitCode = &v
	}
	return true, nil
}

func (f *fakeJobStore) SetWorkerHeartbeat(ctx context.Context, jobID, workerID string, at time.Time) (bool, error) {
	return true, nil
}

func (f *fakeJobStore) SetClientHeartbeat(ctx context.Context, jobID string, monitor *bool, at time.Time) (bool, error) {
	return true, nil
}

func (f *fakeJobStore) GetStaleRunningJobs(ctx context.Context, thresholdFactor float64) ([]*store.Job, error) {
	return f.staleRunning, nil
}

func (f *fakeJobStore) GetStaleAssignedJobs(ctx context.Context, timeoutSeconds int) ([]*store.Job, error) {
	return f.staleAssigned, nil
}

func (f *fakeJobStore) GetStalePendingJobs(ctx context.Context, minSeconds, maxSeconds int) ([]*store.Job, error) {
	if maxSeconds > 0 {
		return f.stalePendingLo, nil
	}
	return f.stalePendingHi, nil
}

func (f *fakeJobStore) GetStaleMonitoredJobs(ctx context.Context, thresholdFactor float64) ([]*store.Job, error) {
	return f.staleMonitored, nil
}

type fakeWorkerStore struct {
	mu      sync.Mutex
	workers map[string]*store.Worker
	stale   []*store.Worker

	// panicOnGetStale makes GetStaleWorkers panic instead of returning,
	// for exercising tick's panic-recovery wrapper.
	panicOnGetStale bool
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{workers: make(map[string]*store.Worker)}
}

func (f *fakeWorkerStore) put(w *store.Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	f.workers[w.WorkerID] = &cp
}

func (f *fakeWorkerStore) AddOrUpdate(ctx context.Context, w *store.Worker) error { f.put(w); return nil }

func (f *fakeWorkerStore) Get(ctx context.Context, workerID string) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWorkerStore) SetOffline(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return store.ErrNotFound
	}
	w.Status = store.WorkerOffline
	return nil
}

func (f *fakeWorkerStore) MarkOffline(ctx context.Context, workerID string) error {
	f.mu.Lock()
	if w, ok := f.workers[workerID]; ok {
		w.Status = store.WorkerOffline
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeWorkerStore) ListOnline(ctx context.Context) ([]*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Worker
	for _, w := range f.workers {
		if w.Status == store.WorkerOnline {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeWorkerStore) GetStaleWorkers(ctx context.Context, thresholdFactor float64) ([]*store.Worker, error) {
	if f.panicOnGetStale {
		panic("simulated store failure in GetStaleWorkers")
	}
	return f.stale, nil
}

func (f *fakeWorkerStore) LoadByWorker(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}
