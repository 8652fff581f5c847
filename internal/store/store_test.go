package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/brwyatt/dffmpeg-coordinator/internal/db"
)

// newTestEngine opens a fresh in-memory sqlite database, migrated, for
// one test's exclusive use.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	gormDB, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	return NewEngine(gormDB)
}

func TestEnginePing(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.Ping(context.Background()))
}

func TestJobStoreCreateAndGet(t *testing.T) {
	e := newTestEngine(t)
	jobs := NewJobStore(e)

	now := time.Now().UTC()
	job := &Job{
		JobID:       "job-1",
		RequesterID: "client-1",
		BinaryName:  "ffmpeg",
		Status:      JobPending,
		CreatedAt:   now,
		LastUpdate:  now,
	}
	require.NoError(t, jobs.Create(context.Background(), job))

	got, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)
	assert.Equal(t, "ffmpeg", got.BinaryName)
}

func TestJobStoreGetMissingReturnsErrNotFound(t *testing.T) {
	e := newTestEngine(t)
	jobs := NewJobStore(e)

	_, err := jobs.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStoreCompareAndSwapStatusSucceedsOnMatch(t *testing.T) {
	e := newTestEngine(t)
	jobs := NewJobStore(e)
	now := time.Now().UTC()
	require.NoError(t, jobs.Create(context.Background(), &Job{
		JobID: "job-1", Status: JobPending, CreatedAt: now, LastUpdate: now,
	}))

	workerID := "worker-1"
	ok, err := jobs.CompareAndSwapStatus(context.Background(), "job-1", JobPending, JobAssigned, TransitionFields{
		SetWorkerID: &workerID,
		At:          now,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobAssigned, got.Status)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, workerID, *got.WorkerID)
}

func TestJobStoreCompareAndSwapStatusFailsOnMismatch(t *testing.T) {
	e := newTestEngine(t)
	jobs := NewJobStore(e)
	now := time.Now().UTC()
	require.NoError(t, jobs.Create(context.Background(), &Job{
		JobID: "job-1", Status: JobRunning, CreatedAt: now, LastUpdate: now,
	}))

	ok, err := jobs.CompareAndSwapStatus(context.Background(), "job-1", JobPending, JobAssigned, TransitionFields{At: now})
	require.NoError(t, err)
	assert.False(t, ok, "CAS must report failure, not an error, when the expected status doesn't match")

	got, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status, "a failed CAS must never mutate the row")
}

func TestJobStoreCompareAndSwapClearsWorkerIDOnPending(t *testing.T) {
	e := newTestEngine(t)
	jobs := NewJobStore(e)
	now := time.Now().UTC()
	workerID := "worker-1"
	require.NoError(t, jobs.Create(context.Background(), &Job{
		JobID: "job-1", Status: JobAssigned, WorkerID: &workerID, CreatedAt: now, LastUpdate: now,
	}))

	ok, err := jobs.CompareAndSwapStatus(context.Background(), "job-1", JobAssigned, JobPending, TransitionFields{At: now})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.WorkerID, "moving to pending must always clear worker_id")
}

func TestWorkerStoreListOnlineFiltersByStatus(t *testing.T) {
	e := newTestEngine(t)
	workers := NewWorkerStore(e)

	require.NoError(t, workers.AddOrUpdate(context.Background(), &Worker{WorkerID: "w1", Status: WorkerOnline}))
	require.NoError(t, workers.AddOrUpdate(context.Background(), &Worker{WorkerID: "w2", Status: WorkerOffline}))

	online, err := workers.ListOnline(context.Background())
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "w1", online[0].WorkerID)
}

func TestWorkerStoreMarkOfflineClearsEphemeralFields(t *testing.T) {
	e := newTestEngine(t)
	workers := NewWorkerStore(e)

	require.NoError(t, workers.AddOrUpdate(context.Background(), &Worker{
		WorkerID:     "w1",
		Status:       WorkerOnline,
		Capabilities: StringList{"gpu"},
		Binaries:     StringList{"ffmpeg"},
	}))

	require.NoError(t, workers.MarkOffline(context.Background(), "w1"))

	w, err := workers.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, WorkerOffline, w.Status)
	assert.Empty(t, w.Capabilities)
	assert.Empty(t, w.Binaries)
}

func TestMessageStoreListForRecipientFiltersByJob(t *testing.T) {
	e := newTestEngine(t)
	messages := NewMessageStore(e)

	require.NoError(t, messages.Create(context.Background(), &Message{
		MessageID: "m1", RecipientID: "worker-1", JobID: "job-1", MessageType: MessageJobRequest, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, messages.Create(context.Background(), &Message{
		MessageID: "m2", RecipientID: "worker-1", JobID: "job-2", MessageType: MessageJobRequest, CreatedAt: time.Now().UTC(),
	}))

	got, err := messages.ListForRecipient(context.Background(), "worker-1", "", "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, Terminal(JobCompleted))
	assert.True(t, Terminal(JobFailed))
	assert.True(t, Terminal(JobCanceled))
	assert.False(t, Terminal(JobPending))
	assert.False(t, Terminal(JobAssigned))
	assert.False(t, Terminal(JobRunning))
	assert.False(t, Terminal(JobCanceling))
}
