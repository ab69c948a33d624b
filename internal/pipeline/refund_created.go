package pipeline

import (
	"context"

	"github.com/angelmondragon/brandpulse/internal/brands"
	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/ledger"
	"github.com/angelmondragon/brandpulse/internal/orders"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
)

func (h *Handlers) handleRefundCreated(ctx context.Context, payload jobs.Payload, progress worker.Progress) error {
	p, ok := payload.(jobs.RefundCreated)
	if !ok {
		return unexpectedPayload("refund created", payload)
	}
	ctx = h.logg.WithFields(ctx, map[string]any{
		"brand_id":  p.BrandID.String(),
		"order_id":  p.OrderID,
		"refund_id": p.RefundID,
	})

	brand, err := h.brands.Get(ctx, p.BrandID)
	if err != nil {
		return err
	}

	order, err := h.resolveOrder(ctx, brand, p.OrderID)
	if err != nil {
		return err
	}
	if _, err := h.ledger.EnsureExists(ctx, p.BrandID, p.OrderID, order.OrderedAt); err != nil {
		return err
	}
	progress(ctx, 40)

	amount := ledger.ShopifyRefundAmount(p.Refund)
	record, applied, err := h.ledger.ApplyRefundOnce(ctx, p.BrandID, p.OrderID, p.RefundID, amount)
	if err != nil {
		return err
	}
	ctx = h.logg.WithFields(ctx, map[string]any{
		"refund_amount": amount.String(),
		"order_refunds": record.RefundAmount.String(),
	})
	if applied {
		h.logg.Info(ctx, "refund applied")
	} else {
		h.logg.Info(ctx, "refund already applied")
	}
	progress(ctx, 70)

	// Refunds are bucketed by the order's creation day.
	if err := h.scheduleAggregation(ctx, p.BrandID, dailymetrics.BucketFor(brand, order.OrderedAt)); err != nil {
		return err
	}
	progress(ctx, 100)
	return nil
}

// resolveOrder returns the local projection, fetching and storing the order
// from the platform when the order event has not been seen yet.
func (h *Handlers) resolveOrder(ctx context.Context, brand *models.Brand, orderID string) (*models.Order, error) {
	order, err := h.orders.FindByExternalID(ctx, brand.ID, orderID)
	if err == nil {
		return order, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	h.logg.Info(ctx, "order not known locally; fetching from platform")
	remote, err := h.platform.FetchOrder(ctx, brands.Shop(brand), orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "refund references an order the platform does not know")
		}
		return nil, err
	}
	fetched := orders.FromShopify(brand.ID, *remote)
	if err := h.orders.Upsert(ctx, &fetched); err != nil {
		return nil, err
	}
	return &fetched, nil
}
