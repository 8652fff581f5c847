package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/idgen"
	"github.com/brwyatt/dffmpeg-coordinator/internal/scheduler"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport/longpoll"
)

func newTestService(t *testing.T, cfg Config) (*Service, *fakeJobStore, *fakeWorkerStore, *fakeMessageStore) {
	t.Helper()
	jobs := newFakeJobStore()
	workers := newFakeWorkerStore()
	messages := newFakeMessageStore()

	log := zap.NewNop()
	ids := idgen.New()
	registry := transport.NewRegistry(messages, ids, log)
	registry.Register(longpoll.New(messages, "/poll"))

	sched := scheduler.New(jobs, workers, registry, log)
	svc := New(jobs, workers, messages, registry, sched, ids, cfg, log)
	return svc, jobs, workers, messages
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{DefaultHeartbeatInterval: 30})

	job, err := svc.Submit(context.Background(), "client-1", SubmitJobRequest{
		BinaryName:          "ffmpeg",
		Arguments:           []string{"-i", "in.mp4", "out.mp4"},
		Paths:               []string{"/media"},
		SupportedTransports: []string{"longpoll"},
	})

	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)
	assert.Equal(t, "client-1", job.RequesterID)
	assert.Equal(t, "longpoll", job.Transport)
	assert.Equal(t, 30, job.HeartbeatInterval)
	assert.NotEmpty(t, job.JobID)
}

func TestSubmitRejectsDisallowedBinary(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{AllowedBinaries: []string{"ffmpeg"}})

	_, err := svc.Submit(context.Background(), "client-1", SubmitJobRequest{
		BinaryName:          "rm",
		SupportedTransports: []string{"longpoll"},
	})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitRejectsNoMutualTransport(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})

	_, err := svc.Submit(context.Background(), "client-1", SubmitJobRequest{
		BinaryName:          "ffmpeg",
		SupportedTransports: []string{"carrier-pigeon"},
	})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestAcceptRequiresAssignedWorker(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobAssigned, WorkerID: strPtr("worker-a"),
	}))

	err := svc.Accept(context.Background(), "worker-b", "job-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAcceptTransitionsAssignedToRunning(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobAssigned, WorkerID: strPtr("worker-a"),
	}))

	require.NoError(t, svc.Accept(context.Background(), "worker-a", "job-1"))

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, job.Status)
}

func TestUpdateStatusRejectsNonTerminalValue(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobRunning, WorkerID: strPtr("worker-a"),
	}))

	err := svc.UpdateStatus(context.Background(), "worker-a", "job-1", store.JobRunning, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateStatusIsIdempotentOnceTerminal(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobCompleted, WorkerID: strPtr("worker-a"),
	}))

	err := svc.UpdateStatus(context.Background(), "worker-a", "job-1", store.JobFailed, nil)
	require.NoError(t, err)

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status, "a terminal job must never move to a different terminal status")
}

func TestCancelPendingJobGoesStraightToCanceled(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobPending, RequesterID: "client-1",
	}))

	require.NoError(t, svc.Cancel(context.Background(), "client-1", false, "job-1"))

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCanceled, job.Status)
}

func TestCancelAssignedJobGoesToCanceling(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobRunning, RequesterID: "client-1", WorkerID: strPtr("worker-a"),
	}))

	require.NoError(t, svc.Cancel(context.Background(), "client-1", false, "job-1"))

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCanceling, job.Status)
}

func TestCancelRejectsNonOwnerNonAdmin(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobPending, RequesterID: "client-1",
	}))

	err := svc.Cancel(context.Background(), "someone-else", false, "job-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancelAlreadyTerminalIsNoOp(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobCompleted, RequesterID: "client-1",
	}))

	require.NoError(t, svc.Cancel(context.Background(), "client-1", false, "job-1"))

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
}

func TestStatusAllowsWorkerOwnerAndAdminButNotStranger(t *testing.T) {
	svc, jobs, _, _ := newTestService(t, Config{})
	require.NoError(t, jobs.Create(context.Background(), &store.Job{
		JobID: "job-1", Status: store.JobRunning, RequesterID: "client-1", WorkerID: strPtr("worker-a"),
	}))

	_, err := svc.Status(context.Background(), "client-1", false, "job-1")
	assert.NoError(t, err)

	_, err = svc.Status(context.Background(), "worker-a", false, "job-1")
	assert.NoError(t, err)

	_, err = svc.Status(context.Background(), "stranger", true, "job-1")
	assert.NoError(t, err)

	_, err = svc.Status(context.Background(), "stranger", false, "job-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJobNotFoundMapsToCoordinatorErrNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})

	_, err := svc.Job(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func strPtr(s string) *string { return &s }
