package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport/longpoll"
)

// PollHandler implements the long-poll pull endpoints of spec.md §6:
// GET /poll/worker and GET /poll/jobs/{id}. Both block on the same
// underlying longpoll.Transport and share the wait/since_message_id
// query contract of spec.md §5.
type PollHandler struct {
	transport *longpoll.Transport
	log       *zap.Logger
}

// NewPollHandler builds a PollHandler.
func NewPollHandler(t *longpoll.Transport, log *zap.Logger) *PollHandler {
	return &PollHandler{transport: t, log: log.Named("poll_handler")}
}

type pollMessageResponse struct {
	MessageID   string          `json:"message_id"`
	SenderID    string          `json:"sender_id"`
	MessageType string          `json:"message_type"`
	JobID       string          `json:"job_id,omitempty"`
	Payload     interface{}     `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func messagesToResponse(msgs []*store.Message) []pollMessageResponse {
	out := make([]pollMessageResponse, len(msgs))
	for i, m := range msgs {
		var payload interface{}
		_ = json.Unmarshal(m.Payload, &payload)
		out[i] = pollMessageResponse{
			MessageID:   m.MessageID,
			SenderID:    m.SenderID,
			MessageType: m.MessageType,
			JobID:       m.JobID,
			Payload:     payload,
			CreatedAt:   m.CreatedAt,
		}
	}
	return out
}

func (h *PollHandler) wait(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return longpoll.DefaultWait
	}
	secs := queryInt(r, "wait", int(longpoll.DefaultWait/time.Second))
	d := time.Duration(secs) * time.Second
	if d <= 0 || d > 60*time.Second {
		return longpoll.DefaultWait
	}
	return d
}

// Worker handles GET /poll/worker: a worker polls for messages addressed
// to its own identity (job assignments, cancellations).
func (h *PollHandler) Worker(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	sinceID := r.URL.Query().Get("since_message_id")

	msgs, err := h.transport.Poll(r.Context(), id.ClientID, "", sinceID, h.wait(r))
	if err != nil {
		if r.Context().Err() != nil {
			return // client disconnected; nothing to write
		}
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"messages": messagesToResponse(msgs)})
}

// Jobs handles GET /poll/jobs/{id}: a requester polls for status/log
// messages scoped to a single job.
func (h *PollHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	if id == nil {
		ErrUnauthorized(w)
		return
	}
	jobID := chi.URLParam(r, "id")
	sinceID := r.URL.Query().Get("since_message_id")

	msgs, err := h.transport.Poll(r.Context(), id.ClientID, jobID, sinceID, h.wait(r))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"messages": messagesToResponse(msgs)})
}
