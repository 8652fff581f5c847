package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

// fakeJobStore is a minimal in-memory store.JobStore, enough to drive
// the coordinator's lifecycle ops without a real database.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*store.Job)}
}

func (f *fakeJobStore) Create(ctx context.Context, j *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.JobID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *j
	f.jobs[j.JobID] = &cp
	return nil
}

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
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
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
	j.LastUpdate = fields.At
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
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return false, nil
	}
	t := at
	j.WorkerLastSeen = &t
	return true, nil
}

func (f *fakeJobStore) SetClientHeartbeat(ctx context.Context, jobID string, monitor *bool, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	t := at
	j.ClientLastSeen = &t
	if monitor != nil {
		j.Monitor = *monitor
	}
	return true, nil
}

func (f *fakeJobStore) GetStaleRunningJobs(ctx context.Context, thresholdFactor float64) ([]*store.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) GetStaleAssignedJobs(ctx context.Context, timeoutSeconds int) ([]*store.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) GetStalePendingJobs(ctx context.Context, minSeconds, maxSeconds int) ([]*store.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) GetStaleMonitoredJobs(ctx context.Context, thresholdFactor float64) ([]*store.Job, error) {
	return nil, nil
}

// fakeWorkerStore is a minimal in-memory store.WorkerStore.
type fakeWorkerStore struct {
	mu      sync.Mutex
	workers map[string]*store.Worker
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{workers: make(map[string]*store.Worker)}
}

func (f *fakeWorkerStore) AddOrUpdate(ctx context.Context, w *store.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	f.workers[w.WorkerID] = &cp
	return nil
}

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
	return f.SetOffline(ctx, workerID)
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
	return nil, nil
}

func (f *fakeWorkerStore) LoadByWorker(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

// fakeMessageStore is a minimal in-memory store.MessageStore.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*store.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{}
}

func (f *fakeMessageStore) Create(ctx context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeMessageStore) ListForRecipient(ctx context.Context, recipientID, sinceID, jobID string) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.RecipientID == recipientID && (jobID == "" || m.JobID == jobID) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) ListForJob(ctx context.Context, jobID, messageType, sinceID string, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.JobID == jobID && m.MessageType == messageType {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	return nil
}
