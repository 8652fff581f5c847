package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// RegisterWorkerRequest is the body of POST /worker/register (spec.md §6).
type RegisterWorkerRequest struct {
	WorkerID             string   `json:"worker_id"`
	Capabilities         []string `json:"capabilities"`
	Binaries             []string `json:"binaries"`
	Paths                []string `json:"paths"`
	SupportedTransports  []string `json:"supported_transports"`
	RegistrationInterval int      `json:"registration_interval"`
	Version              string   `json:"version"`
}

// RegisterWorkerResult carries the negotiated binding back to the caller.
type RegisterWorkerResult struct {
	Transport         string            `json:"transport"`
	TransportMetadata map[string]string `json:"transport_metadata"`
}

// RegisterWorker implements spec.md §6's POST /worker/register: binds a
// transport, restricts Binaries to the coordinator-permitted set (spec.md
// §3 Worker invariant: "binaries is the intersection of what the worker
// declares and what the coordinator configuration permits"), and upserts
// the worker row as online.
func (s *Service) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (*RegisterWorkerResult, error) {
	transportName, ok := transport.Negotiate(req.SupportedTransports, s.transports.Names())
	if !ok {
		return nil, fmt.Errorf("%w: no mutually supported transport", ErrValidation)
	}

	binaries := req.Binaries
	if len(s.cfg.AllowedBinaries) > 0 {
		binaries = intersect(req.Binaries, s.cfg.AllowedBinaries)
	}

	t, _ := s.transports.Get(transportName)
	metadata := t.GetMetadata(req.WorkerID, "")

	now := time.Now().UTC()
	w := &store.Worker{
		WorkerID:             req.WorkerID,
		Status:               store.WorkerOnline,
		LastSeen:             &now,
		Capabilities:         req.Capabilities,
		Binaries:             binaries,
		Paths:                req.Paths,
		Transport:            transportName,
		TransportMetadata:    metadata,
		RegistrationInterval: req.RegistrationInterval,
		Version:              req.Version,
	}
	if err := s.workers.AddOrUpdate(ctx, w); err != nil {
		return nil, err
	}

	return &RegisterWorkerResult{Transport: transportName, TransportMetadata: metadata}, nil
}

// DeregisterWorker implements spec.md §6's POST /worker/deregister: marks
// the worker offline. Unlike the janitor's reap (spec.md §4.4 step 1) this
// does not clear capabilities — a deregistering worker is expected to
// re-register with the same declared capabilities shortly, and there is
// no staleness to reconcile.
func (s *Service) DeregisterWorker(ctx context.Context, workerID string) error {
	return s.workers.SetOffline(ctx, workerID)
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
