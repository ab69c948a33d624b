package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// Service maintains the minimal order projection used for reconciliation.
type Service interface {
	Upsert(ctx context.Context, order *models.Order) error
	BulkUpsert(ctx context.Context, chunk []models.Order) BulkResult
	FindByExternalID(ctx context.Context, brandID uuid.UUID, externalID string) (*models.Order, error)
}

// RecordFailure is one order that could not be written.
type RecordFailure struct {
	ExternalID string
	Err        error
}

// BulkResult reports a chunk processed with unordered semantics: one bad
// record does not stop the rest.
type BulkResult struct {
	Upserted int
	Failures []RecordFailure
}

// Err combines the per-record failures, or nil.
func (r BulkResult) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, fmt.Errorf("order %s: %w", f.ExternalID, f.Err))
	}
	return err
}

type service struct {
	repo Repository
}

// NewService wires an order service with repo.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Upsert(ctx context.Context, order *models.Order) error {
	if err := validate(order); err != nil {
		return err
	}
	order.OrderedAt = order.OrderedAt.UTC()
	if err := s.repo.Upsert(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert order")
	}
	return nil
}

// BulkUpsert writes the chunk in one statement and falls back to per-record
// writes when the batch fails, so failures are attributed individually.
func (s *service) BulkUpsert(ctx context.Context, chunk []models.Order) BulkResult {
	var result BulkResult
	valid := make([]models.Order, 0, len(chunk))
	for i := range chunk {
		if err := validate(&chunk[i]); err != nil {
			result.Failures = append(result.Failures, RecordFailure{ExternalID: chunk[i].ExternalID, Err: err})
			continue
		}
		chunk[i].OrderedAt = chunk[i].OrderedAt.UTC()
		valid = append(valid, chunk[i])
	}
	if len(valid) == 0 {
		return result
	}

	if err := s.repo.UpsertBatch(ctx, valid); err == nil {
		result.Upserted = len(valid)
		return result
	}

	for i := range valid {
		if err := s.repo.Upsert(ctx, &valid[i]); err != nil {
			result.Failures = append(result.Failures, RecordFailure{ExternalID: valid[i].ExternalID, Err: err})
			continue
		}
		result.Upserted++
	}
	return result
}

func (s *service) FindByExternalID(ctx context.Context, brandID uuid.UUID, externalID string) (*models.Order, error) {
	order, err := s.repo.FindByExternalID(ctx, brandID, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("order %s not found", externalID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func validate(order *models.Order) error {
	switch {
	case order == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	case order.BrandID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "brand id is required")
	case strings.TrimSpace(order.ExternalID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	case order.OrderedAt.IsZero():
		return pkgerrors.New(pkgerrors.CodeValidation, "ordered_at is required")
	case order.TotalPrice.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "total price must be non-negative")
	}
	return nil
}

// FromShopify normalizes a platform order into the projection.
func FromShopify(brandID uuid.UUID, src shopify.Order) models.Order {
	var cancelledAt *time.Time
	if src.CancelledAt != nil {
		at := src.CancelledAt.UTC()
		cancelledAt = &at
	}
	return models.Order{
		BrandID:     brandID,
		ExternalID:  src.ExternalID(),
		Name:        src.Name,
		OrderedAt:   src.CreatedAt.UTC(),
		TotalPrice:  src.TotalPrice,
		Currency:    src.Currency,
		Cancelled:   src.CancelledAt != nil,
		CancelledAt: cancelledAt,
	}
}
