package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/coordinator"
)

// WorkerHandler groups the Worker lifecycle API's HTTP handlers
// (spec.md §6).
type WorkerHandler struct {
	svc *coordinator.Service
	log *zap.Logger
}

// NewWorkerHandler builds a WorkerHandler.
func NewWorkerHandler(svc *coordinator.Service, log *zap.Logger) *WorkerHandler {
	return &WorkerHandler{svc: svc, log: log.Named("worker_handler")}
}

type registerWorkerRequestBody struct {
	WorkerID             string   `json:"worker_id"`
	Capabilities         []string `json:"capabilities"`
	Binaries             []string `json:"binaries"`
	Paths                []string `json:"paths"`
	SupportedTransports  []string `json:"supported_transports"`
	RegistrationInterval int      `json:"registration_interval"`
	Version              string   `json:"version"`
}

// Register handles POST /worker/register.
func (h *WorkerHandler) Register(w http.ResponseWriter, r *http.Request) {
	if identityFromCtx(r.Context()) == nil {
		ErrUnauthorized(w)
		return
	}

	var body registerWorkerRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.RegisterWorker(r.Context(), coordinator.RegisterWorkerRequest{
		WorkerID:             body.WorkerID,
		Capabilities:         body.Capabilities,
		Binaries:             body.Binaries,
		Paths:                body.Paths,
		SupportedTransports:  body.SupportedTransports,
		RegistrationInterval: body.RegistrationInterval,
		Version:              body.Version,
	})
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, result)
}

type deregisterWorkerRequestBody struct {
	WorkerID string `json:"worker_id"`
}

// Deregister handles POST /worker/deregister.
func (h *WorkerHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	if identityFromCtx(r.Context()) == nil {
		ErrUnauthorized(w)
		return
	}

	var body deregisterWorkerRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.svc.DeregisterWorker(r.Context(), body.WorkerID); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}
