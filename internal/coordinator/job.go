package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// SubmitJobRequest is the body of POST /jobs/submit (spec.md §6).
type SubmitJobRequest struct {
	BinaryName          string   `json:"binary_name"`
	Arguments           []string `json:"arguments"`
	Paths               []string `json:"paths"`
	SupportedTransports []string `json:"supported_transports"`
}

// Submit implements spec.md §4.2's submit op: validates the binary
// allow-list and transport intersection, inserts a pending job, and
// schedules assignment asynchronously so the HTTP response does not
// block on scheduler placement.
func (s *Service) Submit(ctx context.Context, requesterID string, req SubmitJobRequest) (*store.Job, error) {
	if !s.allowedBinary(req.BinaryName) {
		return nil, fmt.Errorf("%w: binary %q is not allowed", ErrValidation, req.BinaryName)
	}

	transportName, ok := transport.Negotiate(req.SupportedTransports, s.transports.Names())
	if !ok {
		return nil, fmt.Errorf("%w: no mutually supported transport", ErrValidation)
	}

	jobID := s.ids.New()
	t, _ := s.transports.Get(transportName)
	metadata := t.GetMetadata(requesterID, jobID)

	heartbeat := s.cfg.DefaultHeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30
	}

	now := time.Now().UTC()
	job := &store.Job{
		JobID:             jobID,
		RequesterID:       requesterID,
		BinaryName:        req.BinaryName,
		Arguments:         req.Arguments,
		Paths:             req.Paths,
		Status:            store.JobPending,
		CreatedAt:         now,
		LastUpdate:        now,
		Transport:         transportName,
		TransportMetadata: metadata,
		HeartbeatInterval: heartbeat,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.scheduleAssignment(jobID)
	metrics.JobsSubmittedTotal.Inc()

	return job, nil
}

// scheduleAssignment runs the scheduler detached from the request's
// context (spec.md §4.2: "schedule assignment asynchronously") so a
// client disconnect never cancels placement.
func (s *Service) scheduleAssignment(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.scheduler.Assign(ctx, jobID); err != nil {
			s.log.Warn("coordinator: async scheduler assign failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

// Accept implements spec.md §4.2's accept op.
func (s *Service) Accept(ctx context.Context, workerID, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrForbidden
	}

	now := time.Now().UTC()
	ok, err := s.jobs.CompareAndSwapStatus(ctx, jobID, store.JobAssigned, store.JobRunning, store.TransitionFields{At: now})
	if err != nil {
		return err
	}
	if !ok {
		return nil // lost the race (already running, reaped, or canceled); idempotent no-op
	}
	if _, err := s.jobs.SetWorkerHeartbeat(ctx, jobID, workerID, now); err != nil {
		s.log.Warn("coordinator: accept heartbeat stamp failed", zap.String("job_id", jobID), zap.Error(err))
	}

	s.emitJobStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobRunning, nil)
	return nil
}

// terminalStatuses is the set status-update may move a job into
// (spec.md §4.2's table: "status∈{completed,failed,canceled}").
var terminalStatuses = map[string]struct{}{
	store.JobCompleted: {},
	store.JobFailed:    {},
	store.JobCanceled:  {},
}

// UpdateStatus implements spec.md §4.2's status-update op.
func (s *Service) UpdateStatus(ctx context.Context, workerID, jobID, status string, exitCode *int) error {
	if _, ok := terminalStatuses[status]; !ok {
		return fmt.Errorf("%w: status %q is not a valid terminal status", ErrValidation, status)
	}

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrForbidden
	}

	if store.Terminal(job.Status) {
		return nil // already terminal: idempotent no-op (spec.md §4.2, §8)
	}

	now := time.Now().UTC()
	ok, err := s.jobs.CompareAndSwapStatus(ctx, jobID, job.Status, status, store.TransitionFields{ExitCode: exitCode, At: now})
	if err != nil {
		return err
	}
	if !ok {
		return nil // someone else (janitor, a race) already moved it
	}

	s.emitJobStatus(ctx, job, job.RequesterID, jobBinding(job), status, exitCode)
	metrics.JobsTerminalTotal.WithLabelValues(status).Inc()
	return nil
}

// activeWorkerStatuses is where a worker-heartbeat is accepted (spec.md
// §4.2's table: "status∈{assigned,running,canceling}").
var activeWorkerStatuses = map[string]struct{}{
	store.JobAssigned:  {},
	store.JobRunning:   {},
	store.JobCanceling: {},
}

// WorkerHeartbeat implements spec.md §4.2's worker-heartbeat op.
func (s *Service) WorkerHeartbeat(ctx context.Context, workerID, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrForbidden
	}
	if _, ok := activeWorkerStatuses[job.Status]; !ok {
		return nil // not in an active status; harmless no-op
	}
	_, err = s.jobs.SetWorkerHeartbeat(ctx, jobID, workerID, time.Now().UTC())
	return err
}

// ClientHeartbeat implements spec.md §4.2's client-heartbeat op.
func (s *Service) ClientHeartbeat(ctx context.Context, requesterID, jobID string, monitor *bool) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RequesterID != requesterID {
		return ErrForbidden
	}
	_, err = s.jobs.SetClientHeartbeat(ctx, jobID, monitor, time.Now().UTC())
	return err
}

// Cancel implements spec.md §4.2's cancel op.
func (s *Service) Cancel(ctx context.Context, callerID string, isAdmin bool, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RequesterID != callerID && !isAdmin {
		return ErrForbidden
	}

	if store.Terminal(job.Status) || job.Status == store.JobCanceling {
		return nil // spec.md §4.2: canceling-a-canceling (or terminal) job is a 200 no-op
	}

	now := time.Now().UTC()
	if job.WorkerID != nil {
		ok, err := s.jobs.CompareAndSwapStatus(ctx, jobID, job.Status, store.JobCanceling, store.TransitionFields{At: now})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.emitJobStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobCanceling, nil)
		if w, werr := s.workers.Get(ctx, *job.WorkerID); werr == nil {
			s.emitJobStatus(ctx, job, w.WorkerID, workerBinding(w), store.JobCanceling, nil)
		}
		return nil
	}

	ok, err := s.jobs.CompareAndSwapStatus(ctx, jobID, job.Status, store.JobCanceled, store.TransitionFields{At: now})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.emitJobStatus(ctx, job, job.RequesterID, jobBinding(job), store.JobCanceled, nil)
	metrics.JobsTerminalTotal.WithLabelValues(store.JobCanceled).Inc()
	return nil
}

// LogEntry is the wire shape of a single log line (spec.md §3: "Log
// entry (inside a job_logs payload)").
type LogEntry struct {
	Stream    string     `json:"stream"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// JobLogsPayload is the job_logs message body.
type JobLogsPayload struct {
	Logs []LogEntry `json:"logs"`
}

// SubmitLogs implements spec.md §4.2's submit-logs op.
func (s *Service) SubmitLogs(ctx context.Context, workerID, jobID string, logs []LogEntry) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrForbidden
	}

	payload := JobLogsPayload{Logs: logs}
	msg := &store.Message{RecipientID: job.RequesterID, JobID: job.JobID}
	return s.transports.Dispatch(ctx, msg, workerID, store.MessageJobLogs, payload, jobBinding(job))
}

// FetchLogsResult is the response of GET /jobs/{id}/logs (spec.md §6).
type FetchLogsResult struct {
	Logs          []LogEntry `json:"logs"`
	LastMessageID string     `json:"last_message_id"`
}

// FetchLogs implements spec.md §4.2's fetch-logs op: reads persisted
// job_logs messages for jobID newer than sinceMessageID, flattening
// their log entries in message (and therefore time) order.
func (s *Service) FetchLogs(ctx context.Context, callerID string, isAdmin bool, jobID, sinceMessageID string, limit int) (*FetchLogsResult, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != callerID && !isAdmin {
		return nil, ErrForbidden
	}

	msgs, err := s.messages.ListForJob(ctx, jobID, store.MessageJobLogs, sinceMessageID, limit)
	if err != nil {
		return nil, err
	}

	result := &FetchLogsResult{LastMessageID: sinceMessageID}
	for _, m := range msgs {
		var payload JobLogsPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			s.log.Warn("coordinator: skipping malformed job_logs payload", zap.String("message_id", m.MessageID), zap.Error(err))
			continue
		}
		result.Logs = append(result.Logs, payload.Logs...)
		result.LastMessageID = m.MessageID
	}
	return result, nil
}

// Status implements spec.md §4.2's status op.
func (s *Service) Status(ctx context.Context, callerID string, isAdmin bool, jobID string) (*store.Job, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	isWorker := job.WorkerID != nil && *job.WorkerID == callerID
	if job.RequesterID != callerID && !isWorker && !isAdmin {
		return nil, ErrForbidden
	}
	return job, nil
}

// List implements spec.md §4.2's list op (open to any authenticated caller).
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]*store.Job, error) {
	jobs, err := s.jobs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("coordinator: list jobs: %w", err)
	}
	return jobs, nil
}

// Job looks up a single job by id without an ownership check, for
// internal callers (tests) that already hold authority.
func (s *Service) Job(ctx context.Context, jobID string) (*store.Job, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return j, err
}
