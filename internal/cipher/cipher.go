// Package cipher implements the identity store's pluggable key-wrap
// providers (spec.md §4.6, §9 "Pluggable providers"). Each provider wraps
// and unwraps raw HMAC key bytes under a single named scheme; the
// identity store records which provider wrapped a given key as
// key_wrap_id so unwrap always dispatches to the right implementation,
// and so rotation ("find all identities not using wrap-id X") has
// something concrete to compare against.
package cipher

import (
	"fmt"
	"sync"
)

// Provider wraps and unwraps key material at rest. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Name is the provider's registry key, stored alongside every secret
	// it wraps so unwrap can find it again after a restart.
	Name() string
	// Wrap encrypts plaintext key bytes for storage.
	Wrap(plaintext []byte) ([]byte, error)
	// Unwrap recovers the plaintext key bytes from a wrapped blob.
	Unwrap(wrapped []byte) ([]byte, error)
}

var (
	mu        sync.RWMutex
	providers = map[string]Provider{}
)

// Register adds a provider to the process-wide registry. cmd/coordinator
// calls it at startup for each provider, mirroring the teacher's
// registry-by-name pattern (spec.md §9: "a registry map populated at
// program init ... keyed by provider name").
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers[p.Name()] = p
}

// Get looks up a provider by name.
func Get(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := providers[name]
	return p, ok
}

// ErrUnknownProvider is returned by Get-based lookups that fail to find a
// registered provider; kept as a typed error so callers can distinguish
// configuration mistakes from genuine crypto failures.
type ErrUnknownProvider string

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("cipher: unknown provider %q", string(e))
}
