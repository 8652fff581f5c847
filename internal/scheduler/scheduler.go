// Package scheduler implements worker selection and placement for
// pending jobs (spec.md §4.3). It has exactly one implementation,
// invoked both right after submission and by the janitor's pending-retry
// phase — spec.md §9 flags the original source's duplicate route-handler
// copy as non-authoritative, so there is no second copy here.
package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// Scheduler assigns pending jobs to online, capable workers.
type Scheduler struct {
	jobs       store.JobStore
	workers    store.WorkerStore
	transports *transport.Registry
	log        *zap.Logger
}

// New builds a Scheduler.
func New(jobs store.JobStore, workers store.WorkerStore, transports *transport.Registry, log *zap.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, workers: workers, transports: transports, log: log}
}

// Assign runs the full spec.md §4.3 sequence for a single job. It is
// always safe to call more than once for the same job id — step 1's
// pending check and step 6's CAS make every call idempotent: only one
// caller ever wins the assignment.
func (s *Scheduler) Assign(ctx context.Context, jobID string) error {
	start := time.Now()
	defer func() { metrics.SchedulerAssignDuration.Observe(time.Since(start).Seconds()) }()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobPending {
		return nil // someone else already moved it, or it was canceled
	}

	online, err := s.workers.ListOnline(ctx)
	if err != nil {
		return err
	}

	candidates := filterCandidates(job, online)
	if len(candidates) == 0 {
		s.log.Debug("scheduler: no eligible worker", zap.String("job_id", jobID))
		return nil // janitor will retry and eventually time it out
	}

	load, err := s.workers.LoadByWorker(ctx)
	if err != nil {
		return err
	}

	chosen := rank(candidates, load)[0]

	ok, err := s.jobs.CompareAndSwapStatus(ctx, jobID, store.JobPending, store.JobAssigned, store.TransitionFields{
		SetWorkerID: &chosen.WorkerID,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil // CAS lost the race; abort per spec.md §4.3 step 6
	}

	s.notify(ctx, job, chosen)
	return nil
}

// filterCandidates implements spec.md §4.3 step 3: binary_name must be
// in the worker's allowed binaries, and every path the job requires
// must be a subset of what the worker has.
func filterCandidates(job *store.Job, online []*store.Worker) []*store.Worker {
	candidates := make([]*store.Worker, 0, len(online))
	for _, w := range online {
		if !contains(w.Binaries, job.BinaryName) {
			continue
		}
		if !subset(job.Paths, w.Paths) {
			continue
		}
		candidates = append(candidates, w)
	}
	return candidates
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func subset(needed, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[h] = struct{}{}
	}
	for _, n := range needed {
		if _, ok := haveSet[n]; !ok {
			return false
		}
	}
	return true
}

// rank implements spec.md §4.3 step 5: shuffle randomly, stable-sort by
// last_seen truncated to the minute descending, stable-sort by load
// ascending. The net effect, as spec.md states: least-loaded wins; ties
// broken by most-recent contact rounded to a minute; further ties
// broken randomly.
func rank(candidates []*store.Worker, load map[string]int) []*store.Worker {
	ranked := make([]*store.Worker, len(candidates))
	copy(ranked, candidates)

	rand.Shuffle(len(ranked), func(i, j int) { ranked[i], ranked[j] = ranked[j], ranked[i] })

	sort.SliceStable(ranked, func(i, j int) bool {
		return lastSeenMinute(ranked[i]).After(lastSeenMinute(ranked[j]))
	})

	sort.SliceStable(ranked, func(i, j int) bool {
		return load[ranked[i].WorkerID] < load[ranked[j].WorkerID]
	})

	return ranked
}

func lastSeenMinute(w *store.Worker) time.Time {
	if w.LastSeen == nil {
		return time.Time{}
	}
	return w.LastSeen.Truncate(time.Minute)
}

func (s *Scheduler) notify(ctx context.Context, job *store.Job, worker *store.Worker) {
	workerBinding := &transport.RecipientBinding{Transport: worker.Transport, Metadata: worker.TransportMetadata}
	jobBinding := &transport.RecipientBinding{Transport: job.Transport, Metadata: job.TransportMetadata}

	requestPayload := JobRequestPayload{
		JobID:             job.JobID,
		BinaryName:        job.BinaryName,
		Arguments:         job.Arguments,
		Paths:             job.Paths,
		HeartbeatInterval: job.HeartbeatInterval,
	}
	if err := s.transports.Dispatch(ctx, &store.Message{RecipientID: worker.WorkerID, JobID: job.JobID}, "coordinator", store.MessageJobRequest, requestPayload, workerBinding); err != nil {
		s.log.Warn("scheduler: dispatch job_request failed", zap.String("job_id", job.JobID), zap.Error(err))
	}

	statusPayload := JobStatusPayload{Status: store.JobAssigned, LastUpdate: time.Now().UTC()}
	if err := s.transports.Dispatch(ctx, &store.Message{RecipientID: job.RequesterID, JobID: job.JobID}, "coordinator", store.MessageJobStatus, statusPayload, jobBinding); err != nil {
		s.log.Warn("scheduler: dispatch job_status failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// JobRequestPayload is the job_request message body sent to the chosen
// worker (spec.md §4.3 step 7: "carrying binary, arguments, paths,
// heartbeat interval").
type JobRequestPayload struct {
	JobID             string   `json:"job_id"`
	BinaryName        string   `json:"binary_name"`
	Arguments         []string `json:"arguments"`
	Paths             []string `json:"paths"`
	HeartbeatInterval int      `json:"heartbeat_interval"`
}

// JobStatusPayload is the job_status message body, shared by the
// scheduler, the janitor, and the job lifecycle API (spec.md §9:
// "exit_code travels in both the stored job and every job_status
// message for terminal transitions").
type JobStatusPayload struct {
	Status     string    `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}
