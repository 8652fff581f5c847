package store

import (
	"context"
	"time"
)

// ListOptions is shared pagination input across entity stores, following
// the teacher's repositories.ListOptions{Limit, Offset} shape, adapted to
// the cursor-based ("since_id") pagination spec.md §6 requires instead of
// offset pagination.
type ListOptions struct {
	Limit   int
	SinceID string
}

// IdentityStore is the sole authority over Identity rows (spec.md §4.6).
// It is deliberately ignorant of key-wrap schemes: HMACKey is stored and
// returned exactly as given, whether that is wrapped ciphertext or (for
// key_wrap_id = "") plaintext legacy bytes. Wrap/unwrap is the job of
// package identity, one layer up, which is the only caller that also
// knows about the cipher registry.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	Get(ctx context.Context, clientID string) (*Identity, error)
	Update(ctx context.Context, id *Identity) error
	Delete(ctx context.Context, clientID string) error
	// ListNotUsingWrapID drives batched key rotation (spec.md §4.6).
	ListNotUsingWrapID(ctx context.Context, wrapID string, limit int) ([]*Identity, error)
}

// WorkerStore is the sole authority over Worker rows (spec.md §3).
type WorkerStore interface {
	// AddOrUpdate upserts a worker record, keyed by worker_id.
	AddOrUpdate(ctx context.Context, w *Worker) error
	Get(ctx context.Context, workerID string) (*Worker, error)
	// SetOffline marks a worker offline without clearing its declared
	// capabilities (spec.md §6 deregister). Idempotent.
	SetOffline(ctx context.Context, workerID string) error
	// MarkOffline transitions a worker to offline and clears its
	// ephemeral fields (spec.md §4.4 step 1: "clear ephemeral fields
	// (capabilities, binaries, paths, transport, registration_interval)").
	MarkOffline(ctx context.Context, workerID string) error
	// ListOnline returns every worker with status=online, for scheduler
	// candidate selection (spec.md §4.3 step 2).
	ListOnline(ctx context.Context) ([]*Worker, error)
	// GetStaleWorkers returns online workers whose last_seen predates
	// thresholdFactor * registration_interval (spec.md §4.4 step 1).
	GetStaleWorkers(ctx context.Context, thresholdFactor float64) ([]*Worker, error)
	// LoadByWorker returns, for every worker_id with at least one job in
	// {assigned, running, canceling}, the count of such jobs (spec.md
	// §4.3 step 4).
	LoadByWorker(ctx context.Context) (map[string]int, error)
}

// JobStore is the sole authority over Job status transitions (spec.md §3).
type JobStore interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)

	// CompareAndSwapStatus performs the CAS described throughout spec.md
	// §4.2-§4.4: it succeeds only if the row's current status equals
	// expected, and reports success via the bool so callers can treat a
	// CAS miss as "someone else got there first", never as an error.
	CompareAndSwapStatus(ctx context.Context, jobID, expected, next string, fields TransitionFields) (bool, error)

	// SetWorkerHeartbeat CASes worker_last_seen forward, restricted to
	// the job's currently-assigned worker and an active status.
	SetWorkerHeartbeat(ctx context.Context, jobID, workerID string, at time.Time) (bool, error)
	// SetClientHeartbeat updates client_last_seen and optionally the
	// monitor flag; any requester of an existing job may call it.
	SetClientHeartbeat(ctx context.Context, jobID string, monitor *bool, at time.Time) (bool, error)

	// GetStaleRunningJobs returns running jobs whose worker_last_seen
	// predates thresholdFactor * heartbeat_interval (spec.md §4.4 step 2).
	GetStaleRunningJobs(ctx context.Context, thresholdFactor float64) ([]*Job, error)
	// GetStaleAssignedJobs returns assigned jobs older than timeoutSeconds
	// (spec.md §4.4 step 3).
	GetStaleAssignedJobs(ctx context.Context, timeoutSeconds int) ([]*Job, error)
	// GetStalePendingJobs returns pending jobs aged in [minSeconds,
	// maxSeconds); maxSeconds <= 0 means unbounded above (spec.md §4.4
	// step 4, both the retry and fail phases).
	GetStalePendingJobs(ctx context.Context, minSeconds, maxSeconds int) ([]*Job, error)
	// GetStaleMonitoredJobs returns monitor=true jobs in any active
	// status whose client_last_seen predates thresholdFactor *
	// heartbeat_interval (spec.md §4.4 step 5).
	GetStaleMonitoredJobs(ctx context.Context, thresholdFactor float64) ([]*Job, error)
}

// TransitionFields carries the side-effect fields a CAS may set beyond
// status itself. ExitCode and WorkerID are explicit pointers so "leave
// unchanged" and "set to nil/zero" are distinguishable.
type TransitionFields struct {
	SetWorkerID   *string
	ClearWorkerID bool
	ExitCode      *int
	At            time.Time
}

// MessageStore is the sole authority over Message.SentAt (spec.md §4.7).
type MessageStore interface {
	Create(ctx context.Context, m *Message) error
	// ListForRecipient returns messages for recipientID with
	// message_id > sinceID, optionally further filtered to jobID,
	// ascending by message_id (spec.md §4.7, the long-poll query shape).
	ListForRecipient(ctx context.Context, recipientID, sinceID, jobID string) ([]*Message, error)
	// ListForJob returns up to limit messages of messageType for jobID
	// newer than sinceID, newest-first internally then reversed to
	// oldest-first for the caller (spec.md §4.7).
	ListForJob(ctx context.Context, jobID, messageType, sinceID string, limit int) ([]*Message, error)
	// MarkDelivered flips sent_at for every id in ids, in one call.
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
}

// Store aggregates the four entity stores behind one handle for
// convenient dependency injection, mirroring the teacher's practice of
// passing a bundle of repositories into handlers/services.
type Store struct {
	Identities IdentityStore
	Workers    WorkerStore
	Jobs       JobStore
	Messages   MessageStore
	Engine     *Engine
}
