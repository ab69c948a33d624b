package dailymetrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/brandpulse/internal/repo"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
)

// Repository persists daily metric rows.
type Repository interface {
	UpdateRefund(ctx context.Context, brandID uuid.UUID, date string, refund decimal.Decimal, at time.Time) (int64, error)
	Find(ctx context.Context, brandID uuid.UUID, date string) (*models.DailyMetric, error)
	EnsureRow(ctx context.Context, brandID uuid.UUID, date string) error
}

type repository struct {
	repo.Base
}

// NewRepository binds the repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// UpdateRefund sets refund_amount and nothing else. Sales and ad spend
// columns belong to the writers that create the row.
func (r *repository) UpdateRefund(ctx context.Context, brandID uuid.UUID, date string, refund decimal.Decimal, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.DailyMetric{}).
		Where("brand_id = ? AND metric_date = ?", brandID, date).
		Updates(map[string]any{
			"refund_amount": refund,
			"updated_at":    at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Find(ctx context.Context, brandID uuid.UUID, date string) (*models.DailyMetric, error) {
	var row models.DailyMetric
	if err := r.DB(ctx).
		Where("brand_id = ? AND metric_date = ?", brandID, date).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureRow creates an empty row for the ad ingestion path and fixtures.
func (r *repository) EnsureRow(ctx context.Context, brandID uuid.UUID, date string) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "brand_id"}, {Name: "metric_date"}},
			DoNothing: true,
		}).
		Create(&models.DailyMetric{BrandID: brandID, MetricDate: date}).Error
}
