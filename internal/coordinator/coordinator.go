// Package coordinator implements the Job lifecycle API and the Worker
// lifecycle API (spec.md §4.2, §6): the service layer HTTP handlers call
// into. It owns the store-mutate-then-emit-message sequencing that every
// operation in spec.md §4.2's table shares, so that sequencing lives in
// exactly one place rather than being repeated per handler.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/idgen"
	"github.com/brwyatt/dffmpeg-coordinator/internal/scheduler"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// Errors returned by Service methods; the HTTP layer maps these to
// status codes per spec.md §7.
var (
	// ErrForbidden is returned when the caller is authenticated but is
	// not the owner/admin for the operation (spec.md §7: 403).
	ErrForbidden = errors.New("coordinator: forbidden")
	// ErrValidation is returned for well-formed-but-invalid requests
	// (bad transport negotiation, disallowed binary) (spec.md §7: 400).
	ErrValidation = errors.New("coordinator: validation failed")
)

// ErrNotFound re-exports store.ErrNotFound so callers only need to import
// this package to handle every sentinel coordinator methods can return.
var ErrNotFound = store.ErrNotFound

// Config holds the coordinator's own operational knobs (spec.md §6/§9),
// as opposed to transport or storage configuration which live in their
// own packages.
type Config struct {
	// AllowedBinaries restricts which binary_name values submit accepts.
	// An empty list means no coordinator-level restriction (every name
	// declared by a worker's own allow-list still applies per spec.md §3).
	AllowedBinaries []string
	// DefaultHeartbeatInterval is the heartbeat interval, in seconds,
	// assigned to every submitted job (30 when not positive).
	DefaultHeartbeatInterval int
}

// Service implements spec.md §4.2's Job lifecycle API and §6's Worker
// lifecycle API.
type Service struct {
	jobs       store.JobStore
	workers    store.WorkerStore
	messages   store.MessageStore
	transports *transport.Registry
	scheduler  *scheduler.Scheduler
	ids        *idgen.Generator
	cfg        Config
	log        *zap.Logger
}

// New builds a Service.
func New(jobs store.JobStore, workers store.WorkerStore, messages store.MessageStore, transports *transport.Registry, sched *scheduler.Scheduler, ids *idgen.Generator, cfg Config, log *zap.Logger) *Service {
	return &Service{
		jobs:       jobs,
		workers:    workers,
		messages:   messages,
		transports: transports,
		scheduler:  sched,
		ids:        ids,
		cfg:        cfg,
		log:        log,
	}
}

func (s *Service) allowedBinary(name string) bool {
	if len(s.cfg.AllowedBinaries) == 0 {
		return true
	}
	for _, b := range s.cfg.AllowedBinaries {
		if b == name {
			return true
		}
	}
	return false
}

// emitJobStatus sends a job_status message to recipientID using binding,
// shared by every op in spec.md §4.2's "Emits" column.
func (s *Service) emitJobStatus(ctx context.Context, job *store.Job, recipientID string, binding *transport.RecipientBinding, status string, exitCode *int) {
	payload := scheduler.JobStatusPayload{Status: status, ExitCode: exitCode, LastUpdate: time.Now().UTC()}
	if err := s.transports.Dispatch(ctx, &store.Message{RecipientID: recipientID, JobID: job.JobID}, "coordinator", store.MessageJobStatus, payload, binding); err != nil {
		s.log.Warn("coordinator: dispatch job_status failed", zap.String("job_id", job.JobID), zap.String("recipient_id", recipientID), zap.Error(err))
	}
}

func jobBinding(job *store.Job) *transport.RecipientBinding {
	return &transport.RecipientBinding{Transport: job.Transport, Metadata: job.TransportMetadata}
}

func workerBinding(w *store.Worker) *transport.RecipientBinding {
	return &transport.RecipientBinding{Transport: w.Transport, Metadata: w.TransportMetadata}
}

// getJob fetches jobID, returning ErrNotFound for a missing job. It does
// no ownership check; each caller compares the job's requester or
// worker against the caller itself and returns ErrForbidden on mismatch.
func (s *Service) getJob(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("coordinator: get job: %w", err)
	}
	return job, nil
}
