// Package longpoll implements the long-poll HTTP transport (spec.md
// §4.5): a recipient holds a GET open until new messages exist or a
// wait timeout elapses.
//
// spec.md §5 describes "a single process-wide condition variable woken
// by any send"; sync.Cond cannot be select'd against a context deadline
// or an internal wake-interval timer, so this is built on the
// broadcast-channel idiom instead — the same at-least-one-wake-per-send
// semantics, adapted from the single-writer wake-up pattern the
// teacher's websocket hub uses for its register/unregister loop.
package longpoll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

// internalWakeInterval bounds how long a single wait() call blocks
// before re-checking the deadline, per spec.md §5 ("capped at 5s
// internal wake interval").
const internalWakeInterval = 5 * time.Second

// DefaultWait is the default "wait" query parameter value (spec.md §5).
const DefaultWait = 20 * time.Second

const transportName = "longpoll"

// Transport implements transport.ServerTransport for long-poll HTTP.
type Transport struct {
	messages store.MessageStore
	basePath string
	wake     *waker
}

// New builds a long-poll transport. basePath is the route prefix under
// which /worker and /jobs/{id} are mounted (spec.md §6: "/poll/worker",
// "/poll/jobs/{id}").
func New(messages store.MessageStore, basePath string) *Transport {
	return &Transport{messages: messages, basePath: basePath, wake: newWaker()}
}

func (t *Transport) Name() string { return transportName }

func (t *Transport) Setup(ctx context.Context) error { return nil }

// Send has nothing to transmit directly — it persists via the registry
// before this is even called — so all it does is wake every blocked
// poller to re-check the store (spec.md §4.5: "does not actually
// 'send', but triggers a poll check").
func (t *Transport) Send(ctx context.Context, msg *store.Message, transportMetadata map[string]string) (bool, error) {
	t.wake.broadcast()
	return true, nil
}

func (t *Transport) GetMetadata(recipientID, jobID string) map[string]string {
	if jobID != "" {
		return map[string]string{"path": fmt.Sprintf("%s/jobs/%s", t.basePath, jobID)}
	}
	return map[string]string{"path": t.basePath + "/worker"}
}

func (t *Transport) HealthCheck(ctx context.Context) error { return nil }

// Poll blocks until a message newer than sinceID is visible for
// recipientID (optionally scoped to jobID), or wait elapses, whichever
// comes first. Every returned message has sent_at set before Poll
// returns (spec.md §8). A canceled ctx (client disconnect) returns
// immediately with whatever error ctx carries; callers must not mark
// anything delivered in that case, and Poll will not have, since it
// only marks delivered on a non-empty return.
func (t *Transport) Poll(ctx context.Context, recipientID, jobID, sinceID string, wait time.Duration) ([]*store.Message, error) {
	deadline := time.Now().Add(wait)

	for {
		msgs, err := t.messages.ListForRecipient(ctx, recipientID, sinceID, jobID)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			ids := make([]string, len(msgs))
			for i, m := range msgs {
				ids[i] = m.MessageID
			}
			now := time.Now().UTC()
			if err := t.messages.MarkDelivered(ctx, ids, now); err != nil {
				return nil, err
			}
			for _, m := range msgs {
				if m.SentAt == nil {
					m.SentAt = &now
				}
			}
			return msgs, nil
		}

		if !time.Now().Before(deadline) {
			return []*store.Message{}, nil
		}

		remaining := time.Until(deadline)
		slice := internalWakeInterval
		if remaining < slice {
			slice = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		t.wake.wait(ctx, slice)
	}
}

// waker is a broadcast-on-write condition signal built from a channel
// that gets closed (waking every blocked reader) and replaced on every
// notify, the standard idiom for a cancelable/select-able sync.Cond.
type waker struct {
	mu sync.Mutex
	ch chan struct{}
}

func newWaker() *waker {
	return &waker{ch: make(chan struct{})}
}

func (w *waker) wait(ctx context.Context, d time.Duration) {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (w *waker) broadcast() {
	w.mu.Lock()
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}
