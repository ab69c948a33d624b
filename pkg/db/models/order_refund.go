package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderRefund is the additive refund aggregate kept per (brand, order).
// OrderID holds the platform order id, not the projection's primary key.
type OrderRefund struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BrandID        uuid.UUID       `gorm:"column:brand_id;type:uuid;not null;uniqueIndex:ux_order_refunds_brand_order,priority:1;index:ix_order_refunds_brand_created,priority:1"`
	OrderID        string          `gorm:"column:order_id;not null;uniqueIndex:ux_order_refunds_brand_order,priority:2"`
	OrderCreatedAt time.Time       `gorm:"column:order_created_at;not null;index:ix_order_refunds_brand_created,priority:2"`
	RefundAmount   decimal.Decimal `gorm:"column:refund_amount;type:numeric(14,2);not null;default:0"`
	RefundCount    int             `gorm:"column:refund_count;not null;default:0"`
	LastRefundAt   *time.Time      `gorm:"column:last_refund_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *OrderRefund) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RefundEvent records a platform refund id once it has been applied.
type RefundEvent struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BrandID   uuid.UUID       `gorm:"column:brand_id;type:uuid;not null;uniqueIndex:ux_refund_events_brand_refund,priority:1"`
	RefundID  string          `gorm:"column:refund_id;not null;uniqueIndex:ux_refund_events_brand_refund,priority:2"`
	OrderID   string          `gorm:"column:order_id;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (e *RefundEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
