// Package identity is the service layer over the identity store
// (spec.md §4.6): it is the only component that knows both the store
// and the cipher registry, so it is where key wrap/unwrap and the
// localadmin bootstrap live.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/cipher"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

func encodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// LocalAdminID re-exports store.LocalAdminID for callers that only
// import this package.
const LocalAdminID = store.LocalAdminID

// Service wraps an identity store with key wrap/unwrap semantics.
type Service struct {
	store           store.IdentityStore
	defaultProvider string
	log             *zap.Logger
}

// New builds a Service. defaultProvider names the cipher.Provider new
// secrets are wrapped with; it must already be registered.
func New(s store.IdentityStore, defaultProvider string, log *zap.Logger) *Service {
	return &Service{store: s, defaultProvider: defaultProvider, log: log}
}

// Create mints a fresh 32-byte HMAC secret, wraps it with the default
// provider, and persists the identity. Returns the plaintext secret
// exactly once — it is never retrievable again except via admin-only
// operations (spec.md §3 invariant).
func (svc *Service) Create(ctx context.Context, clientID, role string, allowedCIDRs []string) (*store.Identity, string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("identity: generating secret: %w", err)
	}

	wrapped, wrapID, err := svc.wrap(secret)
	if err != nil {
		return nil, "", err
	}

	if len(allowedCIDRs) == 0 {
		allowedCIDRs = []string{"0.0.0.0/0", "::/0"}
	}
	for _, c := range allowedCIDRs {
		if _, _, err := net.ParseCIDR(c); err != nil {
			return nil, "", fmt.Errorf("identity: invalid CIDR %q: %w", c, err)
		}
	}

	id := &store.Identity{
		ClientID:     clientID,
		Role:         role,
		HMACKey:      wrapped,
		KeyWrapID:    wrapID,
		AllowedCIDRs: allowedCIDRs,
	}
	if err := svc.store.Create(ctx, id); err != nil {
		return nil, "", err
	}
	return id, encodeBase64(secret), nil
}

// Get returns the identity with HMACKey replaced by the unwrapped
// plaintext secret bytes, ready for HMAC verification.
func (svc *Service) Get(ctx context.Context, clientID string) (*store.Identity, error) {
	id, err := svc.store.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	plain, err := svc.unwrap(id.HMACKey, id.KeyWrapID)
	if err != nil {
		return nil, err
	}
	id.HMACKey = plain
	return id, nil
}

// RotateWrapID re-wraps a single identity's secret under newProvider,
// preserving the plaintext value (spec.md §8: "rewrapping ... preserves
// the plaintext key").
func (svc *Service) RotateWrapID(ctx context.Context, clientID, newProvider string) error {
	id, err := svc.store.Get(ctx, clientID)
	if err != nil {
		return err
	}
	plain, err := svc.unwrap(id.HMACKey, id.KeyWrapID)
	if err != nil {
		return err
	}
	wrapped, wrapID, err := svc.wrapWith(plain, newProvider)
	if err != nil {
		return err
	}
	id.HMACKey = wrapped
	id.KeyWrapID = wrapID
	return svc.store.Update(ctx, id)
}

// BatchRewrap re-wraps up to limit identities not already using
// targetProvider, driving rotation in chunks (spec.md §4.6).
func (svc *Service) BatchRewrap(ctx context.Context, targetProvider string, limit int) (int, error) {
	candidates, err := svc.store.ListNotUsingWrapID(ctx, targetProvider, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range candidates {
		if err := svc.RotateWrapID(ctx, id.ClientID, targetProvider); err != nil {
			svc.log.Warn("identity: batch rewrap failed", zap.String("client_id", id.ClientID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// EnsureLocalAdmin creates the localadmin bootstrap identity
// (spec.md §4.6) if it does not already exist.
func (svc *Service) EnsureLocalAdmin(ctx context.Context) error {
	_, err := svc.store.Get(ctx, LocalAdminID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("identity: generating localadmin key: %w", err)
	}
	wrapped, wrapID, err := svc.wrap(secret)
	if err != nil {
		return err
	}

	id := &store.Identity{
		ClientID:     LocalAdminID,
		Role:         store.RoleAdmin,
		HMACKey:      wrapped,
		KeyWrapID:    wrapID,
		AllowedCIDRs: store.StringList{"127.0.0.0/8", "::1/128"},
	}
	if err := svc.store.Create(ctx, id); err != nil {
		return err
	}
	svc.log.Info("identity: bootstrapped localadmin identity")
	return nil
}

func (svc *Service) wrap(plain []byte) (wrapped []byte, wrapID string, err error) {
	return svc.wrapWith(plain, svc.defaultProvider)
}

func (svc *Service) wrapWith(plain []byte, providerName string) ([]byte, string, error) {
	if providerName == "" {
		return plain, "", nil
	}
	p, ok := cipher.Get(providerName)
	if !ok {
		return nil, "", cipher.ErrUnknownProvider(providerName)
	}
	wrapped, err := p.Wrap(plain)
	if err != nil {
		return nil, "", fmt.Errorf("identity: wrap: %w", err)
	}
	return wrapped, p.Name(), nil
}

func (svc *Service) unwrap(wrapped []byte, wrapID string) ([]byte, error) {
	if wrapID == "" {
		return wrapped, nil
	}
	p, ok := cipher.Get(wrapID)
	if !ok {
		return nil, cipher.ErrUnknownProvider(wrapID)
	}
	plain, err := p.Unwrap(wrapped)
	if err != nil {
		return nil, fmt.Errorf("identity: unwrap: %w", err)
	}
	return plain, nil
}
