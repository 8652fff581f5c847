package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/brwyatt/dffmpeg-coordinator/internal/db"
	"github.com/brwyatt/dffmpeg-coordinator/internal/idgen"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
	"github.com/brwyatt/dffmpeg-coordinator/internal/transport"
)

func newTestHealthHandler(t *testing.T) *HealthHandler {
	t.Helper()
	gormDB, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	engine := store.NewEngine(gormDB)
	registry := transport.NewRegistry(store.NewMessageStore(engine), idgen.New(), zap.NewNop())
	return NewHealthHandler(engine, registry, zap.NewNop())
}

func TestHealthCheckShallowAlwaysOK(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthCheckDeepReportsDatabaseOK(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health?deep=true", nil)
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"primary":"ok"`)
}
