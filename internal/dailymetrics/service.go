package dailymetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/brandpulse/internal/brands"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
)

// BrandLookup resolves the brand whose timezone buckets the day.
type BrandLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Brand, error)
}

// RefundSource sums ledger refunds by order creation time.
type RefundSource interface {
	SumRefundsForOrdersCreatedBetween(ctx context.Context, brandID uuid.UUID, start, end time.Time) (decimal.Decimal, error)
}

// Result describes one recomputation.
type Result struct {
	BrandID      uuid.UUID       `json:"brandId"`
	Date         string          `json:"date"`
	Annotated    bool            `json:"annotated"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
}

// Service recomputes daily aggregates from stored state.
type Service interface {
	Recompute(ctx context.Context, brandID uuid.UUID, date string) (Result, error)
}

// ServiceParams wire the aggregator.
type ServiceParams struct {
	Repo    Repository
	Brands  BrandLookup
	Refunds RefundSource
	Logger  *logger.Logger
	Clock   func() time.Time
}

type service struct {
	repo    Repository
	brands  BrandLookup
	refunds RefundSource
	logg    *logger.Logger
	now     func() time.Time
}

// NewService validates dependencies and returns the aggregator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("daily metrics repository required")
	}
	if params.Brands == nil {
		return nil, fmt.Errorf("brand lookup required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund source required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		brands:  params.Brands,
		refunds: params.Refunds,
		logg:    logg,
		now:     clock,
	}, nil
}

// Recompute sets the day's refund total from the ledger. Only refund_amount
// is written. A missing row is left alone and reported with Annotated=false.
func (s *service) Recompute(ctx context.Context, brandID uuid.UUID, date string) (Result, error) {
	result := Result{BrandID: brandID, Date: date}

	brand, err := s.brands.Get(ctx, brandID)
	if err != nil {
		return result, err
	}
	start, end, err := DayRange(date, brands.Location(brand))
	if err != nil {
		return result, err
	}

	refunds, err := s.refunds.SumRefundsForOrdersCreatedBetween(ctx, brandID, start, end)
	if err != nil {
		return result, err
	}
	result.RefundAmount = refunds.Round(2)

	rows, err := s.repo.UpdateRefund(ctx, brandID, date, result.RefundAmount, s.now().UTC())
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update daily metrics")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"brand_id":      brandID.String(),
		"metric_date":   date,
		"refund_amount": result.RefundAmount.String(),
	})
	if rows == 0 {
		s.logg.Warn(ctx, "daily metrics row missing; nothing to annotate")
		return result, nil
	}
	result.Annotated = true
	s.logg.Info(ctx, "daily metrics recomputed")
	return result, nil
}

// DayRange returns the half-open [start, next) interval of a local date.
func DayRange(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(jobs.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metric date")
	}
	return day, day.AddDate(0, 0, 1), nil
}

// BucketFor returns the brand-local date of t.
func BucketFor(brand *models.Brand, t time.Time) string {
	return t.In(brands.Location(brand)).Format(jobs.DateLayout)
}
