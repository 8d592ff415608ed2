// Package notify consumes tenant configuration change notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

const fetchBatchSize = 10

// TenantStore persists tenant configuration applied from notifications.
type TenantStore interface {
	SaveTenant(ctx context.Context, cfg *model.TenantConfig) error
	DeleteTenant(ctx context.Context, tenantID, schema, phoneNumberID string) error
}

// CacheInvalidator drops cached tenant configuration after a change is applied.
type CacheInvalidator interface {
	Invalidate(tenantID string)
}

// Consumer pulls tenant configuration events from JetStream and applies them
// to the registry.
type Consumer struct {
	consumer    jetstream.Consumer
	store       TenantStore
	invalidator CacheInvalidator
	logger      *logger.Logger
}

// NewConsumer creates a notification consumer over a durable pull consumer.
func NewConsumer(consumer jetstream.Consumer, store TenantStore, invalidator CacheInvalidator, log *logger.Logger) *Consumer {
	return &Consumer{
		consumer:    consumer,
		store:       store,
		invalidator: invalidator,
		logger:      log,
	}
}

// Run fetches and processes events until the context is cancelled. It blocks;
// call it from its own goroutine. Messages are handled sequentially, so
// cancellation never interrupts an in-flight handler: the loop finishes the
// current batch before it observes the cancelled context.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("notification consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("notification consumer stopped")
			return
		default:
		}

		batch, err := c.consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("failed to fetch notifications", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			c.handle(ctx, msg)
		}
		if err := batch.Error(); err != nil && ctx.Err() == nil {
			c.logger.Warn("notification batch error", zap.Error(err))
		}
	}
}

// handle processes a single event. The message is acked only on success.
// Every failure, permanent included, leaves the message unacked: the server
// redelivers it after the visibility window until MaxDeliver exhausts it.
// Classification only shapes the log, so operators can tell a poisoned
// payload from a flaky dependency while the event is still on the stream.
func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	metrics.NotificationsInFlight.Inc()
	defer metrics.NotificationsInFlight.Dec()

	event, err := parseEvent(msg.Data())
	if err == nil {
		err = c.apply(ctx, event)
	}

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("failed to ack notification", zap.Error(ackErr))
		}
		metrics.RecordNotification("applied")
		return
	}

	class := apperr.Classify(err)
	fields := []zap.Field{
		zap.String("subject", msg.Subject()),
		zap.String("class", string(class)),
		zap.Error(err),
	}
	if event != nil {
		fields = append(fields, zap.String("event_type", string(event.EventType)))
	}

	switch class {
	case apperr.ClassPermanent:
		c.logger.Error("permanent notification failure, leaving for redelivery", fields...)
		metrics.RecordNotification("failed_permanent")
	default:
		c.logger.Warn("notification failed, leaving for redelivery", fields...)
		metrics.RecordNotification("retried")
	}
}

func (c *Consumer) apply(ctx context.Context, event *model.ConfigChangeEvent) error {
	switch event.EventType {
	case model.ConfigEventCreated, model.ConfigEventUpdated:
		if err := c.store.SaveTenant(ctx, event.Config); err != nil {
			return fmt.Errorf("failed to save tenant config: %w", err)
		}
	case model.ConfigEventDeleted:
		if err := c.store.DeleteTenant(ctx, event.Config.TenantID, event.Config.Schema, event.Config.Channel.PhoneNumberID); err != nil {
			return fmt.Errorf("failed to delete tenant config: %w", err)
		}
	default:
		return apperr.New(apperr.CodeValidation, fmt.Sprintf("unknown event type %q", event.EventType), nil)
	}

	if c.invalidator != nil {
		c.invalidator.Invalidate(event.Config.TenantID)
	}

	c.logger.Info("applied tenant config change",
		zap.String("event_type", string(event.EventType)),
		zap.String("tenant_id", event.Config.TenantID),
		zap.String("schema", event.Config.Schema),
	)
	return nil
}

// parseEvent decodes and validates an event envelope. Validation failures are
// permanent: the payload will never become processable.
func parseEvent(data []byte) (*model.ConfigChangeEvent, error) {
	var event model.ConfigChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, apperr.New(apperr.CodeValidation, "malformed notification payload", err)
	}
	if event.EventType == "" {
		return nil, apperr.New(apperr.CodeValidation, "notification missing eventType", nil)
	}
	if event.UserID == "" {
		return nil, apperr.New(apperr.CodeValidation, "notification missing userId", nil)
	}
	if event.Config == nil {
		return nil, apperr.New(apperr.CodeValidation, "notification missing config", nil)
	}
	if event.Config.Schema == "" {
		return nil, apperr.New(apperr.CodeValidation, "notification config missing schema", nil)
	}
	if event.Config.TenantID == "" {
		return nil, apperr.New(apperr.CodeValidation, "notification config missing tenantId", nil)
	}
	return &event, nil
}
