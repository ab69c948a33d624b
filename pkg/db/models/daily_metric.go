package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyMetric is the per-brand rollup for one local calendar day (YYYY-MM-DD).
// Ad spend columns belong to the ad ingestion path and are never written here.
type DailyMetric struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	BrandID       uuid.UUID        `gorm:"column:brand_id;type:uuid;not null;uniqueIndex:ux_daily_metrics_brand_date,priority:1"`
	MetricDate    string           `gorm:"column:metric_date;type:varchar(10);not null;uniqueIndex:ux_daily_metrics_brand_date,priority:2"`
	GrossSales    decimal.Decimal  `gorm:"column:gross_sales;type:numeric(14,2);not null;default:0"`
	RefundAmount  decimal.Decimal  `gorm:"column:refund_amount;type:numeric(14,2);not null;default:0"`
	NetSales      decimal.Decimal  `gorm:"column:net_sales;type:numeric(14,2);not null;default:0"`
	AdSpend       *decimal.Decimal `gorm:"column:ad_spend;type:numeric(14,2)"`
	AdImpressions *int64           `gorm:"column:ad_impressions"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *DailyMetric) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// All returns every model for AutoMigrate in tests and sqlite dev mode.
func All() []any {
	return []any{&Brand{}, &Order{}, &OrderRefund{}, &RefundEvent{}, &DailyMetric{}}
}
