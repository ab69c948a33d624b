package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

const consumerName = "commerce-ingest"

// Handler accepts normalized events.
type Handler interface {
	Handle(ctx context.Context, event Event) (queue.JobRef, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// Consumer reads commerce events from Pub/Sub.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer creates a Pub/Sub consumer.
func NewConsumer(subscription *gcppubsub.Subscriber, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("commerce subscription is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscription: subscription, handler: handler, manager: manager, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg.ID, msg.Data, msg.Attributes) == outcomeNack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeNack
)

// process acks malformed and terminally rejected events, and nacks transient
// failures after clearing the idempotency marker so redelivery is handled.
func (c *Consumer) process(ctx context.Context, messageID string, data []byte, attrs map[string]string) outcome {
	fields := map[string]any{"message_id": messageID}
	logCtx := c.logg.WithFields(ctx, fields)

	event, err := decodeEvent(messageID, data, attrs)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid commerce event")
		return outcomeAck
	}
	fields["event_id"] = event.ID
	fields["event_type"] = string(event.Type)
	logCtx = c.logg.WithFields(ctx, fields)

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, event.ID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return outcomeNack
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return outcomeAck
	}

	if _, err := c.handler.Handle(logCtx, event); err != nil {
		if !pkgerrors.IsRetryable(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "commerce event rejected")
			return outcomeAck
		}
		c.logg.Error(logCtx, "commerce event handling failed", err)
		_ = c.manager.Delete(logCtx, consumerName, event.ID)
		return outcomeNack
	}
	return outcomeAck
}

// decodeEvent reads the event body. An event_type attribute fills a missing
// type and the message id fills a missing event id.
func decodeEvent(messageID string, data []byte, attrs map[string]string) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		parsed, err := enums.ParseCommerceEventType(strings.TrimSpace(attrs["event_type"]))
		if err != nil {
			return Event{}, fmt.Errorf("event_type: %w", err)
		}
		event.Type = parsed
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = messageID
	}
	if event.ID == "" {
		return Event{}, errors.New("event id is required")
	}
	return event, nil
}
