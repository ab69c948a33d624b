package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/brandpulse/internal/repo"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
)

// Repository persists the order projection.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, order *models.Order) error
	UpsertBatch(ctx context.Context, orders []models.Order) error
	FindByExternalID(ctx context.Context, brandID uuid.UUID, externalID string) (*models.Order, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an order repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

// upsertClause never touches ordered_at so replays cannot move an order to another day.
var upsertClause = clause.OnConflict{
	Columns: []clause.Column{{Name: "brand_id"}, {Name: "external_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"name", "total_price", "currency", "cancelled", "cancelled_at", "updated_at",
	}),
}

func (r *repository) Upsert(ctx context.Context, order *models.Order) error {
	return r.DB(ctx).Clauses(upsertClause).Create(order).Error
}

func (r *repository) UpsertBatch(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(upsertClause).Create(&orders).Error
}

func (r *repository) FindByExternalID(ctx context.Context, brandID uuid.UUID, externalID string) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).
		Where("brand_id = ? AND external_id = ?", brandID, externalID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}
