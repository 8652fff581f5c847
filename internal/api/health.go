package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

// HealthHandler implements GET /health (spec.md §6). It is
// unauthenticated, like /metrics; ?deep=true additionally pings the database and
// every registered transport, per spec.md §7's "Component unhealthy
// (deep health only) -> 500 with per-component detail".
type HealthHandler struct {
	engine     *store.Engine
	transports *transport.Registry
	log        *zap.Logger
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(engine *store.Engine, transports *transport.Registry, log *zap.Logger) *HealthHandler {
	return &HealthHandler{engine: engine, transports: transports, log: log.Named("health_handler")}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Databases  map[string]string `json:"databases,omitempty"`
	Transports map[string]string `json:"transports,omitempty"`
}

// Check handles GET /health?deep=.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") != "true" && r.URL.Query().Get("deep") != "1" {
		JSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:     "ok",
		Databases:  map[string]string{},
		Transports: map[string]string{},
	}
	healthy := true

	if err := h.engine.Ping(ctx); err != nil {
		resp.Databases["primary"] = err.Error()
		healthy = false
	} else {
		resp.Databases["primary"] = "ok"
	}

	for _, name := range h.transports.Names() {
		t, ok := h.transports.Get(name)
		if !ok {
			continue
		}
		if err := t.HealthCheck(ctx); err != nil {
			resp.Transports[name] = err.Error()
			healthy = false
		} else {
			resp.Transports[name] = "ok"
		}
	}

	if !healthy {
		resp.Status = "unhealthy"
		JSON(w, http.StatusInternalServerError, resp)
		return
	}
	JSON(w, http.StatusOK, resp)
}
