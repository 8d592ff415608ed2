package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the tenant configuration events stream.
	StreamName = "TENANT_EVENTS"

	// SubjectConfigChanges matches all tenant configuration change events.
	SubjectConfigChanges = "tenants.config.>"

	// ConsumerName is the engine's durable pull consumer.
	ConsumerName = "orchestrator"
)

// ConsumerConfig tunes the durable pull consumer.
type ConsumerConfig struct {
	// AckWait is the visibility timeout: how long a fetched message stays
	// invisible before the server redelivers it.
	AckWait time.Duration

	// MaxDeliver bounds redelivery before the message is given up on.
	MaxDeliver int
}

// StreamManager handles JetStream stream and consumer provisioning.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the tenant events stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{"tenants.>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Tenant configuration change notifications",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EnsureConsumer creates or updates the durable pull consumer used by the
// notification consumer.
func (m *StreamManager) EnsureConsumer(ctx context.Context, cfg ConsumerConfig) (jetstream.Consumer, error) {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 2 * time.Minute
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}

	consumer, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: SubjectConfigChanges,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return consumer, nil
}

// PublishConfigChange publishes a tenant configuration change event. Used by
// tests and local tooling; production events come from the configuration
// service.
func (m *StreamManager) PublishConfigChange(ctx context.Context, eventType string, payload []byte) error {
	subject := fmt.Sprintf("tenants.config.%s", eventType)
	if _, err := m.client.JetStream().Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish config change: %w", err)
	}
	return nil
}
