package pipeline

import (
	"context"

	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
)

func (h *Handlers) handleOrderCreated(ctx context.Context, payload jobs.Payload, progress worker.Progress) error {
	p, ok := payload.(jobs.OrderCreated)
	if !ok {
		return unexpectedPayload("order created", payload)
	}
	ctx = h.logg.WithFields(ctx, map[string]any{"brand_id": p.BrandID.String(), "order_id": p.OrderID})

	brand, err := h.brands.Get(ctx, p.BrandID)
	if err != nil {
		return err
	}

	order := models.Order{
		BrandID:    p.BrandID,
		ExternalID: p.OrderID,
		Name:       p.Name,
		OrderedAt:  p.OrderedAt.UTC(),
		TotalPrice: p.TotalPrice,
		Currency:   p.Currency,
		Cancelled:  p.Cancelled,
	}
	if err := h.orders.Upsert(ctx, &order); err != nil {
		return err
	}
	progress(ctx, 40)

	if _, err := h.ledger.EnsureExists(ctx, p.BrandID, p.OrderID, p.OrderedAt); err != nil {
		return err
	}
	progress(ctx, 70)

	if err := h.scheduleAggregation(ctx, p.BrandID, dailymetrics.BucketFor(brand, p.OrderedAt)); err != nil {
		return err
	}
	progress(ctx, 100)
	h.logg.Info(ctx, "order recorded")
	return nil
}
