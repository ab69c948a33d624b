// Package ingest turns inbound commerce events into queued jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// BrandResolver finds the brand an event belongs to.
type BrandResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	ResolveByShopDomain(ctx context.Context, domain string) (*models.Brand, error)
}

// Service normalizes and enqueues commerce events.
type Service struct {
	brands   BrandResolver
	queue    jobs.Queue
	registry *jobs.Registry
	validate *validator.Validate
	logg     *logger.Logger
}

// NewService wires the ingestion service.
func NewService(brands BrandResolver, q jobs.Queue, registry *jobs.Registry, logg *logger.Logger) (*Service, error) {
	if brands == nil {
		return nil, errors.New("brand resolver is required")
	}
	if q == nil {
		return nil, errors.New("job queue is required")
	}
	if registry == nil {
		registry = jobs.DefaultRegistry()
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{brands: brands, queue: q, registry: registry, validate: validator.New(), logg: logg}, nil
}

// Handle validates the event, resolves its brand and enqueues the job.
func (s *Service) Handle(ctx context.Context, event Event) (queue.JobRef, error) {
	if err := s.validate.Struct(event); err != nil {
		return queue.JobRef{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid commerce event")
	}
	if !event.Type.IsValid() {
		return queue.JobRef{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown event type %q", event.Type))
	}

	brand, err := s.resolveBrand(ctx, event)
	if err != nil {
		return queue.JobRef{}, err
	}

	payload, err := s.normalize(brand, event)
	if err != nil {
		return queue.JobRef{}, err
	}
	if err := s.registry.Validate(payload); err != nil {
		return queue.JobRef{}, err
	}

	ref, err := jobs.Enqueue(ctx, s.queue, payload, queue.EnqueueOptions{})
	if err != nil {
		return queue.JobRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue commerce job")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"brand_id":   brand.ID.String(),
		"job_id":     ref.ID,
		"coalesced":  ref.Coalesced,
	}), "commerce event enqueued")
	return ref, nil
}

func (s *Service) resolveBrand(ctx context.Context, event Event) (*models.Brand, error) {
	if event.BrandID != nil && *event.BrandID != uuid.Nil {
		return s.brands.Get(ctx, *event.BrandID)
	}
	return s.brands.ResolveByShopDomain(ctx, event.ShopDomain)
}

func (s *Service) normalize(brand *models.Brand, event Event) (jobs.Payload, error) {
	switch event.Type {
	case enums.CommerceEventOrderCreated:
		var order shopify.Order
		if err := decode(event.Payload, &order); err != nil {
			return nil, err
		}
		if order.ID == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
		}
		return jobs.OrderCreatedFromShopify(brand.ID, order), nil

	case enums.CommerceEventRefundCreated:
		var refund shopify.Refund
		if err := decode(event.Payload, &refund); err != nil {
			return nil, err
		}
		if refund.ID == 0 || refund.OrderID == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id and order id are required")
		}
		return jobs.RefundCreated{
			BrandID:  brand.ID,
			OrderID:  strconv.FormatInt(refund.OrderID, 10),
			RefundID: strconv.FormatInt(refund.ID, 10),
			Refund:   refund,
		}, nil

	case enums.CommerceEventHistoricalSync:
		var req SyncRequest
		if err := decode(event.Payload, &req); err != nil {
			return nil, err
		}
		return jobs.HistoricalSync{
			BrandID:      brand.ID,
			CreatedAtMin: req.CreatedAtMin,
			CreatedAtMax: req.CreatedAtMax,
			RequestedBy:  req.RequestedBy,
		}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported event type %q", event.Type))
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event payload")
	}
	return nil
}
