package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/brandpulse/api/responses"
	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// GuardConsumer scopes webhook delivery markers in the idempotency store.
const GuardConsumer = "shopify-webhook"

const maxWebhookBytes = 1 << 20

// EventHandler enqueues a normalized commerce event.
type EventHandler interface {
	Handle(ctx context.Context, event ingest.Event) (queue.JobRef, error)
}

// Guard records accepted webhook ids.
type Guard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

var topicEvents = map[string]enums.CommerceEventType{
	shopify.TopicOrdersCreate:  enums.CommerceEventOrderCreated,
	shopify.TopicRefundsCreate: enums.CommerceEventRefundCreated,
}

// ShopifyWebhook verifies and enqueues orders/create and refunds/create
// deliveries. Redeliveries of a webhook id already accepted answer 200
// without enqueuing again.
func ShopifyWebhook(svc EventHandler, secret string, guard Guard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(shopify.HeaderHmac)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "shopify signature missing"))
			return
		}
		if !shopify.VerifyWebhook(secret, payload, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "shopify signature invalid"))
			return
		}

		topic := strings.ToLower(strings.TrimSpace(r.Header.Get(shopify.HeaderTopic)))
		eventType, ok := topicEvents[topic]
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported webhook topic").WithDetails(map[string]any{"topic": topic}))
			return
		}
		webhookID := strings.TrimSpace(r.Header.Get(shopify.HeaderWebhookID))
		if webhookID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook id missing"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"webhook_id": webhookID, "topic": topic})
		}

		alreadyProcessed, err := guard.CheckAndMarkProcessed(ctx, GuardConsumer, webhookID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]any{"duplicate": true})
			return
		}

		ref, err := svc.Handle(ctx, ingest.Event{
			ID:         webhookID,
			Type:       eventType,
			ShopDomain: r.Header.Get(shopify.HeaderShopDomain),
			OccurredAt: time.Now().UTC(),
			Payload:    payload,
		})
		if err != nil {
			_ = guard.Delete(context.WithoutCancel(ctx), GuardConsumer, webhookID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "job_id", ref.ID), "shopify webhook accepted")
		}
		responses.WriteSuccess(w, map[string]any{"jobId": ref.ID, "coalesced": ref.Coalesced})
	}
}
