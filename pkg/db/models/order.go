package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the minimal projection of a platform order used for reconciliation.
type Order struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BrandID     uuid.UUID       `gorm:"column:brand_id;type:uuid;not null;uniqueIndex:ux_orders_brand_external,priority:1;index:ix_orders_brand_ordered_at,priority:1"`
	ExternalID  string          `gorm:"column:external_id;not null;uniqueIndex:ux_orders_brand_external,priority:2"`
	Name        string          `gorm:"column:name;not null;default:''"`
	OrderedAt   time.Time       `gorm:"column:ordered_at;not null;index:ix_orders_brand_ordered_at,priority:2"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:numeric(14,2);not null;default:0"`
	Currency    string          `gorm:"column:currency;not null;default:''"`
	Cancelled   bool            `gorm:"column:cancelled;not null;default:false"`
	CancelledAt *time.Time      `gorm:"column:cancelled_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
