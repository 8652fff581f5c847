package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/authn"
	"github.com/brwyatt/dffmpeg-coordinator/internal/coordinator"
	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport/longpoll"
)

// RouterConfig holds every dependency the HTTP router needs. It is
// populated in main.go once all components are constructed and passed
// to NewRouter as a single struct, following the teacher's rationale:
// a single struct keeps the constructor signature manageable as the
// number of dependencies grows.
type RouterConfig struct {
	Coordinator   *coordinator.Service
	Authenticator *authn.Authenticator
	Engine        *store.Engine
	Transports    *transport.Registry
	LongPoll      *longpoll.Transport
	Logger        *zap.Logger
}

// NewRouter builds the fully configured Chi router implementing spec.md
// §6's route table. Every route except GET /health and /metrics requires
// a valid signed request (spec.md §4.1).
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)

	jobHandler := NewJobHandler(cfg.Coordinator, cfg.Logger)
	workerHandler := NewWorkerHandler(cfg.Coordinator, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.Engine, cfg.Transports, cfg.Logger)
	pollHandler := NewPollHandler(cfg.LongPoll, cfg.Logger)

	// --- Public routes (no authentication required) ---
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", metrics.Handler())

	// --- Authenticated routes (HMAC-signed request required) ---
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Authenticator, cfg.Logger))

		// Worker lifecycle
		r.Post("/worker/register", workerHandler.Register)
		r.Post("/worker/deregister", workerHandler.Deregister)

		// Job lifecycle
		r.Post("/jobs/submit", jobHandler.Submit)
		r.Get("/jobs", jobHandler.List)
		r.Post("/jobs/{id}/accept", jobHandler.Accept)
		r.Post("/jobs/{id}/status", jobHandler.UpdateStatus)
		r.Post("/jobs/{id}/heartbeat", jobHandler.Heartbeat)
		r.Post("/jobs/{id}/client_heartbeat", jobHandler.ClientHeartbeat)
		r.Post("/jobs/{id}/cancel", jobHandler.Cancel)
		r.Post("/jobs/{id}/logs", jobHandler.SubmitLogs)
		r.Get("/jobs/{id}/logs", jobHandler.FetchLogs)
		r.Get("/jobs/{id}/status", jobHandler.Status)

		// Long-poll pull endpoints
		r.Get("/poll/worker", pollHandler.Worker)
		r.Get("/poll/jobs/{id}", pollHandler.Jobs)
	})

	return r
}
