package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// DateLayout is the local calendar day format used by daily metrics.
const DateLayout = "2006-01-02"

// Payload is implemented by every job body the queue carries.
type Payload interface {
	Kind() enums.JobKind
	IdempotencyKey() string
}

// OrderCreated is a normalized order event.
type OrderCreated struct {
	BrandID    uuid.UUID       `json:"brandId" validate:"required"`
	OrderID    string          `json:"orderId" validate:"required"`
	Name       string          `json:"name,omitempty"`
	OrderedAt  time.Time       `json:"orderedAt" validate:"required"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Currency   string          `json:"currency,omitempty"`
	Cancelled  bool            `json:"cancelled,omitempty"`
}

func (OrderCreated) Kind() enums.JobKind { return enums.JobKindOrderCreated }

func (p OrderCreated) IdempotencyKey() string {
	return fmt.Sprintf("order-created:%s:%s", p.BrandID, p.OrderID)
}

// OrderCreatedFromShopify normalizes a platform order.
func OrderCreatedFromShopify(brandID uuid.UUID, order shopify.Order) OrderCreated {
	return OrderCreated{
		BrandID:    brandID,
		OrderID:    order.ExternalID(),
		Name:       order.Name,
		OrderedAt:  order.CreatedAt.UTC(),
		TotalPrice: order.TotalPrice,
		Currency:   order.Currency,
		Cancelled:  order.CancelledAt != nil,
	}
}

// RefundCreated carries the raw platform refund so the amount is computed
// by the worker.
type RefundCreated struct {
	BrandID  uuid.UUID      `json:"brandId" validate:"required"`
	OrderID  string         `json:"orderId" validate:"required"`
	RefundID string         `json:"refundId" validate:"required"`
	Refund   shopify.Refund `json:"refund"`
}

func (RefundCreated) Kind() enums.JobKind { return enums.JobKindRefundCreated }

func (p RefundCreated) IdempotencyKey() string {
	return fmt.Sprintf("refund-created:%s:%s", p.BrandID, p.RefundID)
}

// HistoricalSync requests a backfill of a brand's orders.
type HistoricalSync struct {
	BrandID      uuid.UUID  `json:"brandId" validate:"required"`
	CreatedAtMin *time.Time `json:"createdAtMin,omitempty"`
	CreatedAtMax *time.Time `json:"createdAtMax,omitempty"`
	RequestedBy  string     `json:"requestedBy,omitempty"`
}

func (HistoricalSync) Kind() enums.JobKind { return enums.JobKindHistoricalSync }

// Check rejects an inverted date range.
func (p HistoricalSync) Check() error {
	if p.CreatedAtMin != nil && p.CreatedAtMax != nil && p.CreatedAtMax.Before(*p.CreatedAtMin) {
		return fmt.Errorf("createdAtMax %s is before createdAtMin %s", p.CreatedAtMax.Format(time.RFC3339), p.CreatedAtMin.Format(time.RFC3339))
	}
	return nil
}

// One backfill per brand may be pending at a time.
func (p HistoricalSync) IdempotencyKey() string {
	return fmt.Sprintf("historical-sync:%s", p.BrandID)
}

// DailyMetrics asks for one brand-day to be recomputed.
type DailyMetrics struct {
	BrandID uuid.UUID `json:"brandId" validate:"required"`
	Date    string    `json:"date" validate:"required,datetime=2006-01-02"`
}

func (DailyMetrics) Kind() enums.JobKind { return enums.JobKindDailyMetrics }

// Bursts for the same day coalesce into one recomputation.
func (p DailyMetrics) IdempotencyKey() string {
	return fmt.Sprintf("daily-metrics:%s:%s", p.BrandID, p.Date)
}
