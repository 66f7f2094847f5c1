package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/outbox/idempotency"
)

const notificationConsumer = "guildpass-notifications"

type messenger interface {
	SendDirect(ctx context.Context, userID, content string) error
	ExecuteWebhook(ctx context.Context, content string) error
}

// Consumer watches domain events and fans them out to the operator webhook
// and holder direct messages. Delivery is best-effort: a failed direct
// message never blocks the event, only a webhook failure triggers a retry.
type Consumer struct {
	messenger    messenger
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the notification consumer.
func NewConsumer(msgr messenger, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if msgr == nil {
		return nil, fmt.Errorf("messenger required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		messenger:    msgr,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	parsedType, err := enums.ParseOutboxEventType(eventType)
	if err != nil {
		c.logg.Info(logCtx, "skipping unknown event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	if envelope.EventID == "" {
		c.logg.Info(logCtx, "envelope missing event id")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notificationConsumer, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handleEvent(ctx, parsedType, envelope); err != nil {
		c.logg.Error(logCtx, "notification delivery failed", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, envelope.EventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

// handleEvent renders the event and delivers it. The returned error covers
// only the webhook leg; direct messages are fire-and-forget.
func (c *Consumer) handleEvent(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	rendered, err := render(eventType, envelope.Data)
	if err != nil {
		return err
	}
	if rendered == nil {
		return nil
	}

	if rendered.directTo != "" && rendered.direct != "" {
		if err := c.messenger.SendDirect(ctx, rendered.directTo, rendered.direct); err != nil {
			logCtx := c.logg.WithHolderID(ctx, rendered.directTo)
			c.logg.Warn(logCtx, "direct message delivery failed")
		}
	}
	if rendered.webhook != "" {
		if err := c.messenger.ExecuteWebhook(ctx, rendered.webhook); err != nil {
			return fmt.Errorf("webhook delivery: %w", err)
		}
	}
	return nil
}
