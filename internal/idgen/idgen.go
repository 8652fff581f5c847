// Package idgen generates the 128-bit, lexicographically sortable,
// time-ordered identifiers used for job and message ids (spec.md §6:
// "Crockford base32 ... ascending sort is also time-ascending").
package idgen

import (
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonically increasing ULIDs for a single process.
// A shared entropy source plus a mutex give monotonic ordering even for
// ids minted within the same millisecond, which matters for cursor-based
// "greater than" queries in the message and job stores.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// New returns a Generator seeded from the system's monotonic-safe entropy.
func New() *Generator {
	return &Generator{entropy: ulid.Monotonic(newCryptoReader(), 0)}
}

// NewID mints a new id for the given instant. Callers almost always pass
// time.Now(); a distinct time is occasionally useful in tests.
func (g *Generator) NewID(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

// New mints a new id using the current time. Convenience wrapper over
// NewID for the overwhelmingly common case.
func (g *Generator) New() string {
	return g.NewID(time.Now())
}
