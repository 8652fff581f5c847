package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/coordinator"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

// JobHandler groups the Job lifecycle API's HTTP handlers (spec.md §4.2,
// §6).
type JobHandler struct {
	svc *coordinator.Service
	log *zap.Logger
}

// NewJobHandler builds a JobHandler.
func NewJobHandler(svc *coordinator.Service, log *zap.Logger) *JobHandler {
	return &JobHandler{svc: svc, log: log.Named("job_handler")}
}

// jobResponse is the wire shape of spec.md §3's Job entity.
type jobResponse struct {
	JobID             string            `json:"job_id"`
	RequesterID       string            `json:"requester_id"`
	BinaryName        string            `json:"binary_name"`
	Arguments         []string          `json:"arguments"`
	Paths             []string          `json:"paths"`
	Status            string            `json:"status"`
	ExitCode          *int              `json:"exit_code,omitempty"`
	WorkerID          *string           `json:"worker_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastUpdate        time.Time         `json:"last_update"`
	WorkerLastSeen    *time.Time        `json:"worker_last_seen,omitempty"`
	ClientLastSeen    *time.Time        `json:"client_last_seen,omitempty"`
	Transport         string            `json:"transport"`
	TransportMetadata map[string]string `json:"transport_metadata"`
	HeartbeatInterval int               `json:"heartbeat_interval"`
	Monitor           bool              `json:"monitor"`
}

func jobToResponse(j *store.Job) jobResponse {
	return jobResponse{
		JobID:             j.JobID,
		RequesterID:       j.RequesterID,
		BinaryName:        j.BinaryName,
		Arguments:         j.Arguments,
		Paths:             j.Paths,
		Status:            j.Status,
		ExitCode:          j.ExitCode,
		WorkerID:          j.WorkerID,
		CreatedAt:         j.CreatedAt,
		LastUpdate:        j.LastUpdate,
		WorkerLastSeen:    j.WorkerLastSeen,
		ClientLastSeen:    j.ClientLastSeen,
		Transport:         j.Transport,
		TransportMetadata: j.TransportMetadata,
		HeartbeatInterval: j.HeartbeatInterval,
		Monitor:           j.Monitor,
	}
}

type submitJobRequestBody struct {
	BinaryName          string   `json:"binary_name"`
	Arguments           []string `json:"arguments"`
	Paths               []string `json:"paths"`
	SupportedTransports []string `json:"supported_transports"`
}

// Submit handles POST /jobs/submit.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}

	var body submitJobRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	job, err := h.svc.Submit(r.Context(), id.ClientID, coordinator.SubmitJobRequest{
		BinaryName:          body.BinaryName,
		Arguments:           body.Arguments,
		Paths:               body.Paths,
		SupportedTransports: body.SupportedTransports,
	})
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Created(w, jobToResponse(job))
}

// Accept handles POST /jobs/{id}/accept.
func (h *JobHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")
	if err := h.svc.Accept(r.Context(), id.ClientID, jobID); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

type statusUpdateRequestBody struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// UpdateStatus handles POST /jobs/{id}/status.
func (h *JobHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")

	var body statusUpdateRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), id.ClientID, jobID, body.Status, body.ExitCode); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

// Heartbeat handles POST /jobs/{id}/heartbeat.
func (h *JobHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")
	if err := h.svc.WorkerHeartbeat(r.Context(), id.ClientID, jobID); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

type clientHeartbeatRequestBody struct {
	Monitor *bool `json:"monitor,omitempty"`
}

// ClientHeartbeat handles POST /jobs/{id}/client_heartbeat.
func (h *JobHandler) ClientHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")

	var body clientHeartbeatRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.svc.ClientHeartbeat(r.Context(), id.ClientID, jobID, body.Monitor); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

// Cancel handles POST /jobs/{id}/cancel.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id.ClientID, id.Role == store.RoleAdmin, jobID); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

type submitLogsRequestBody struct {
	Logs []coordinator.LogEntry `json:"logs"`
}

// SubmitLogs handles POST /jobs/{id}/logs.
func (h *JobHandler) SubmitLogs(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")

	var body submitLogsRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.svc.SubmitLogs(r.Context(), id.ClientID, jobID, body.Logs); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}

// FetchLogs handles GET /jobs/{id}/logs.
func (h *JobHandler) FetchLogs(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")
	sinceID := r.URL.Query().Get("since_message_id")
	limit := queryInt(r, "limit", 100)

	result, err := h.svc.FetchLogs(r.Context(), id.ClientID, id.Role == store.RoleAdmin, jobID, sinceID, limit)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, result)
}

// Status handles GET /jobs/{id}/status.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")

	job, err := h.svc.Status(r.Context(), id.ClientID, id.Role == store.RoleAdmin, jobID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	Ok(w, jobToResponse(job))
}

// List handles GET /jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}

	opts := store.ListOptions{
		Limit:   queryInt(r, "limit", 20),
		SinceID: r.URL.Query().Get("since_id"),
	}

	jobs, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = jobToResponse(j)
	}
	Ok(w, map[string]any{"jobs": items})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
