// Package mqtttransport implements the MQTT-style pub/sub transport
// (spec.md §4.5): the coordinator publishes at QoS 1 to
// <prefix>/workers/<worker_id> or <prefix>/jobs/<client_id>/<job_id>.
package mqtttransport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

const transportName = "mqtt"
const qos = 1

// Transport implements transport.ServerTransport backed by an MQTT
// broker connection. paho's client owns its own reconnection loop
// (AutoReconnect), matching spec.md §5's "background tasks with their
// own reconnection loops".
type Transport struct {
	client mqtt.Client
	prefix string
	log    *zap.Logger
}

// New builds an MQTT transport bound to brokerURL, with topics rooted
// at prefix (e.g. "dffmpeg").
func New(brokerURL, prefix, clientID string, log *zap.Logger) *Transport {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	return &Transport{client: mqtt.NewClient(opts), prefix: prefix, log: log}
}

func (t *Transport) Name() string { return transportName }

func (t *Transport) Setup(ctx context.Context) error {
	token := t.client.Connect()
	go func() {
		<-ctx.Done()
		t.client.Disconnect(250)
	}()
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			t.log.Warn("mqtt: initial connect failed, relying on auto-reconnect", zap.Error(err))
		}
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, msg *store.Message, transportMetadata map[string]string) (bool, error) {
	if !t.client.IsConnectionOpen() {
		return false, nil
	}
	topic := transportMetadata["topic"]
	if topic == "" {
		return false, nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("mqtt: marshal message: %w", err)
	}

	token := t.client.Publish(topic, qos, false, body)
	if !token.WaitTimeout(5 * time.Second) {
		return false, nil
	}
	if err := token.Error(); err != nil {
		return false, nil
	}
	return true, nil
}

func (t *Transport) GetMetadata(recipientID, jobID string) map[string]string {
	if jobID != "" {
		return map[string]string{
			"topic": fmt.Sprintf("%s/jobs/%s/%s", t.prefix, recipientID, jobID),
			"qos":   "1",
		}
	}
	return map[string]string{
		"topic": fmt.Sprintf("%s/workers/%s", t.prefix, recipientID),
		"qos":   "1",
	}
}

func (t *Transport) HealthCheck(ctx context.Context) error {
	if !t.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt: not connected")
	}
	return nil
}
