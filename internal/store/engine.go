package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Engine wraps a *gorm.DB shared by all four entity stores, each of
// which holds an *Engine and builds its queries on Engine.DB(). Engine
// itself offers only DB, Now and Ping; the "stale row" and CAS queries
// the janitor and scheduler need are methods of the job and worker
// stores.
type Engine struct {
	db *gorm.DB
}

// NewEngine wraps an already-opened, already-migrated *gorm.DB.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// DB exposes the underlying *gorm.DB for entity stores that need direct
// query construction. Kept on Engine (not duplicated per store) so there
// is exactly one place that knows about the concrete ORM in use.
func (e *Engine) DB() *gorm.DB { return e.db }

// Now is the engine's notion of the current time: the system clock in
// UTC.
func (e *Engine) Now() time.Time { return time.Now().UTC() }

// Ping verifies the underlying connection is alive, for the deep health
// check (spec.md §6: "GET /health?deep=").
func (e *Engine) Ping(ctx context.Context) error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return fmt.Errorf("store: engine: ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
