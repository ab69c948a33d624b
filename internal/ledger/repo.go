package ledger

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

// Repository manages persistence for order refund records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, record *models.OrderRefund) (bool, error)
	InsertIfAbsentBatch(ctx context.Context, records []models.OrderRefund, batchSize int) (int64, error)
	Increment(ctx context.Context, brandID uuid.UUID, orderID string, amount decimal.Decimal, at time.Time) (int64, error)
	Find(ctx context.Context, brandID uuid.UUID, orderID string) (*models.OrderRefund, error)
	InsertRefundEvent(ctx context.Context, event *models.RefundEvent) (bool, error)
	SumRefundsCreatedBetween(ctx context.Context, brandID uuid.UUID, start, end time.Time) (decimal.Decimal, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

var orderKeyConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "brand_id"}, {Name: "order_id"}},
	DoNothing: true,
}

func (r *repository) InsertIfAbsent(ctx context.Context, record *models.OrderRefund) (bool, error) {
	res := r.DB(ctx).Clauses(orderKeyConflict).Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) InsertIfAbsentBatch(ctx context.Context, records []models.OrderRefund, batchSize int) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Clauses(orderKeyConflict).CreateInBatches(&records, batchSize)
	return res.RowsAffected, res.Error
}

// Increment adds amount in a single statement so concurrent refunds commute.
func (r *repository) Increment(ctx context.Context, brandID uuid.UUID, orderID string, amount decimal.Decimal, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.OrderRefund{}).
		Where("brand_id = ? AND order_id = ?", brandID, orderID).
		Updates(map[string]any{
			"refund_amount":  gorm.Expr("refund_amount + ?", amount),
			"refund_count":   gorm.Expr("refund_count + 1"),
			"last_refund_at": at,
			"updated_at":     at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Find(ctx context.Context, brandID uuid.UUID, orderID string) (*models.OrderRefund, error) {
	var record models.OrderRefund
	err := r.DB(ctx).
		Where("brand_id = ? AND order_id = ?", brandID, orderID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) InsertRefundEvent(ctx context.Context, event *models.RefundEvent) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "brand_id"}, {Name: "refund_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SumRefundsCreatedBetween(ctx context.Context, brandID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.DB(ctx).
		Model(&models.OrderRefund{}).
		Select("COALESCE(SUM(refund_amount), 0)").
		Where("brand_id = ? AND order_created_at >= ? AND order_created_at < ?", brandID, start.UTC(), end.UTC()).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}
