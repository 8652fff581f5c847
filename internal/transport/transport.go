// Package transport implements the coordinator's message fabric
// (spec.md §4.5): a registry of server-side transports plus the
// recipient-kind-aware dispatch every Job/Worker lifecycle operation
// goes through to relay a message.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/idgen"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

// ServerTransport is the capability every transport implements
// (spec.md §4.5): setup, send, per-recipient metadata, and a health
// check. Kept as a small interface rather than a base class, per
// spec.md §9's design note on avoiding deep inheritance.
type ServerTransport interface {
	// Name is the transport's negotiation name (e.g. "longpoll", "amqp",
	// "mqtt"); it is what clients list in supported_transports.
	Name() string
	// Setup performs any one-time wiring (route registration, broker
	// connection) needed before Send/GetMetadata are called.
	Setup(ctx context.Context) error
	// Send delivers (or, for pull transports, makes available) the
	// given message. transportMetadata is the recipient's bound
	// metadata from registration/submission time. The bool return
	// records attempted delivery; it never gates persistence
	// (spec.md §4.5: messages persist before Send is invoked).
	Send(ctx context.Context, msg *store.Message, transportMetadata map[string]string) (bool, error)
	// GetMetadata returns the metadata a recipient needs to receive
	// messages over this transport (e.g. a long-poll path, a queue
	// name). jobID is empty for worker-kind recipients.
	GetMetadata(recipientID, jobID string) map[string]string
	// HealthCheck reports whether the transport is currently able to
	// deliver messages.
	HealthCheck(ctx context.Context) error
}

// Registry is the process-wide set of enabled transports, keyed by
// name, populated at startup (spec.md §9: "a registry map populated at
// program init ... keyed by provider name").
type Registry struct {
	mu         sync.RWMutex
	transports map[string]ServerTransport
	names      []string // preserves registration order for Names and Setup
	messages   store.MessageStore
	ids        *idgen.Generator
	log        *zap.Logger
}

// NewRegistry builds an empty Registry bound to the message store that
// owns persistence-before-send (spec.md §4.5).
func NewRegistry(messages store.MessageStore, ids *idgen.Generator, log *zap.Logger) *Registry {
	return &Registry{
		transports: make(map[string]ServerTransport),
		messages:   messages,
		ids:        ids,
		log:        log,
	}
}

// Register adds a transport to the registry. Call before Setup.
func (r *Registry) Register(t ServerTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
	r.names = append(r.names, t.Name())
}

// Setup calls Setup on every registered transport.
func (r *Registry) Setup(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.names {
		if err := r.transports[name].Setup(ctx); err != nil {
			return fmt.Errorf("transport: setup %q: %w", name, err)
		}
	}
	return nil
}

// Names returns the enabled transport names in registration order, the
// server side of transport negotiation (spec.md §4.5).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Get looks up a transport by name.
func (r *Registry) Get(name string) (ServerTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Negotiate returns the first entry in clientPreferences that is also
// enabled on the server, per spec.md §4.5 "Transport negotiation". ok
// is false (400 at the HTTP layer) if none match.
func Negotiate(clientPreferences, serverEnabled []string) (string, bool) {
	enabled := make(map[string]struct{}, len(serverEnabled))
	for _, n := range serverEnabled {
		enabled[n] = struct{}{}
	}
	for _, pref := range clientPreferences {
		if _, ok := enabled[pref]; ok {
			return pref, true
		}
	}
	return "", false
}

// RecipientBinding is the (transport, metadata) pair dispatch needs to
// reach a recipient — either a worker's own binding, or (for a
// requester with no worker row) the job's binding.
type RecipientBinding struct {
	Transport string
	Metadata  map[string]string
}

// Dispatch persists msg and then sends it via binding, which the caller
// chooses by recipient kind: a worker's own binding for a worker, the
// job's binding for a requester. A nil binding or one with no transport
// leaves the message pull-only (still persisted, undeliverable by push).
func (r *Registry) Dispatch(ctx context.Context, msg *store.Message, senderID, messageType string, payload any, binding *RecipientBinding) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal payload: %w", err)
	}

	msg.MessageID = r.ids.New()
	msg.SenderID = senderID
	msg.MessageType = messageType
	msg.Payload = raw
	msg.CreatedAt = time.Now().UTC()

	if err := r.messages.Create(ctx, msg); err != nil {
		return err
	}

	if binding == nil || binding.Transport == "" {
		return nil // undeliverable by push; pull transports will still see it
	}

	t, ok := r.Get(binding.Transport)
	if !ok {
		r.log.Warn("transport: unknown transport in binding", zap.String("transport", binding.Transport))
		return nil
	}

	delivered, err := t.Send(ctx, msg, binding.Metadata)
	if err != nil {
		r.log.Warn("transport: send failed", zap.String("transport", binding.Transport), zap.Error(err))
		return nil
	}
	if delivered {
		_ = r.messages.MarkDelivered(ctx, []string{msg.MessageID}, time.Now().UTC())
	}
	return nil
}
