// Package amqptransport implements the AMQP-style topic-broker
// transport (spec.md §4.5): the coordinator publishes to a topic
// exchange; workers bind durable, non-auto-delete queues named
// worker.<worker_id>; requesters bind ephemeral, auto-delete queues
// named job.<requester_id>.<job_id>. Binding/consuming those queues is
// the out-of-scope client/worker side's job — this transport only
// publishes and reports the routing metadata a consumer needs.
package amqptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

const transportName = "amqp"

// Transport implements transport.ServerTransport backed by an AMQP
// topic exchange.
type Transport struct {
	url          string
	exchangeName string
	log          *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New builds an AMQP transport. Setup dials the broker and declares the
// exchange; it is safe to construct before the broker is reachable —
// reconnection is handled by a background loop (spec.md §5:
// "Transport-client objects ... are background tasks with their own
// reconnection loops").
func New(url, exchangeName string, log *zap.Logger) *Transport {
	return &Transport{url: url, exchangeName: exchangeName, log: log}
}

func (t *Transport) Name() string { return transportName }

func (t *Transport) Setup(ctx context.Context) error {
	if err := t.connect(); err != nil {
		t.log.Warn("amqp: initial connect failed, will retry in background", zap.Error(err))
	}
	go t.reconnectLoop(ctx)
	return nil
}

func (t *Transport) connect() error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(t.exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: declare exchange: %w", err)
	}

	t.mu.Lock()
	t.conn, t.channel = conn, ch
	t.mu.Unlock()
	return nil
}

// reconnectLoop watches the connection's close notification and
// redials with a fixed backoff until ctx is canceled (process
// shutdown), per spec.md §5's "cancel all transport background loops".
func (t *Transport) reconnectLoop(ctx context.Context) {
	for {
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()

		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			if err := t.connect(); err != nil {
				t.log.Warn("amqp: reconnect failed", zap.Error(err))
			}
			continue
		}

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			t.mu.Lock()
			if t.channel != nil {
				t.channel.Close()
			}
			if t.conn != nil {
				t.conn.Close()
			}
			t.conn, t.channel = nil, nil
			t.mu.Unlock()
			return
		case err := <-closed:
			t.log.Warn("amqp: connection closed", zap.Error(asError(err)))
			t.mu.Lock()
			t.conn, t.channel = nil, nil
			t.mu.Unlock()
		}
	}
}

func asError(e *amqp.Error) error {
	if e == nil {
		return nil
	}
	return e
}

func (t *Transport) Send(ctx context.Context, msg *store.Message, transportMetadata map[string]string) (bool, error) {
	t.mu.RLock()
	ch := t.channel
	t.mu.RUnlock()
	if ch == nil {
		return false, nil // connection down; message stays persisted for later
	}

	routingKey := transportMetadata["routing_key"]
	if routingKey == "" {
		return false, nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("amqp: marshal message: %w", err)
	}

	err = ch.PublishWithContext(ctx, t.exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   msg.MessageID,
		Timestamp:   msg.CreatedAt,
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetMetadata returns the routing key and queue-declaration hints a
// consumer needs to bind against this message's recipient (spec.md
// §4.5's worker.<worker_id> / job.<requester_id>.<job_id> scheme).
func (t *Transport) GetMetadata(recipientID, jobID string) map[string]string {
	if jobID != "" {
		return map[string]string{
			"exchange":    t.exchangeName,
			"routing_key": fmt.Sprintf("job.%s.%s", recipientID, jobID),
			"queue":       fmt.Sprintf("job.%s.%s", recipientID, jobID),
			"durable":     "false",
			"auto_delete": "true",
		}
	}
	return map[string]string{
		"exchange":    t.exchangeName,
		"routing_key": fmt.Sprintf("worker.%s", recipientID),
		"queue":       fmt.Sprintf("worker.%s", recipientID),
		"durable":     "true",
		"auto_delete": "false",
	}
}

func (t *Transport) HealthCheck(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil || t.conn.IsClosed() {
		return fmt.Errorf("amqp: not connected")
	}
	return nil
}
