package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
)

const defaultSeedBatchSize = 100

// Service maintains exactly one additive refund record per order.
type Service interface {
	EnsureExists(ctx context.Context, brandID uuid.UUID, orderID string, orderCreatedAt time.Time) (bool, error)
	BulkEnsureExists(ctx context.Context, seeds []Seed) (int64, error)
	ApplyRefund(ctx context.Context, brandID uuid.UUID, orderID string, amount decimal.Decimal) (*models.OrderRefund, error)
	ApplyRefundOnce(ctx context.Context, brandID uuid.UUID, orderID, refundID string, amount decimal.Decimal) (*models.OrderRefund, bool, error)
	Get(ctx context.Context, brandID uuid.UUID, orderID string) (*models.OrderRefund, error)
	SumRefundsForOrdersCreatedBetween(ctx context.Context, brandID uuid.UUID, start, end time.Time) (decimal.Decimal, error)
}

// Seed pre-creates a ledger record during backfill.
type Seed struct {
	BrandID        uuid.UUID
	OrderID        string
	OrderCreatedAt time.Time
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wire a ledger service.
type ServiceParams struct {
	Repo          Repository
	Tx            Transactor
	Clock         func() time.Time
	SeedBatchSize int
}

type service struct {
	repo      Repository
	tx        Transactor
	now       func() time.Time
	batchSize int
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("ledger transactor required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	batch := params.SeedBatchSize
	if batch <= 0 {
		batch = defaultSeedBatchSize
	}
	return &service{repo: params.Repo, tx: params.Tx, now: clock, batchSize: batch}, nil
}

// EnsureExists creates a zeroed record if none exists. An existing record,
// including its order_created_at, is never modified.
func (s *service) EnsureExists(ctx context.Context, brandID uuid.UUID, orderID string, orderCreatedAt time.Time) (bool, error) {
	if err := validateKey(brandID, orderID); err != nil {
		return false, err
	}
	if orderCreatedAt.IsZero() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order created at is required")
	}
	created, err := s.repo.InsertIfAbsent(ctx, &models.OrderRefund{
		BrandID:        brandID,
		OrderID:        orderID,
		OrderCreatedAt: orderCreatedAt.UTC(),
		RefundAmount:   decimal.Zero,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure ledger record")
	}
	return created, nil
}

func (s *service) BulkEnsureExists(ctx context.Context, seeds []Seed) (int64, error) {
	records := make([]models.OrderRefund, 0, len(seeds))
	for _, seed := range seeds {
		if err := validateKey(seed.BrandID, seed.OrderID); err != nil {
			return 0, err
		}
		records = append(records, models.OrderRefund{
			BrandID:        seed.BrandID,
			OrderID:        seed.OrderID,
			OrderCreatedAt: seed.OrderCreatedAt.UTC(),
			RefundAmount:   decimal.Zero,
		})
	}
	inserted, err := s.repo.InsertIfAbsentBatch(ctx, records, s.batchSize)
	if err != nil {
		return inserted, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bulk ensure ledger records")
	}
	return inserted, nil
}

func (s *service) ApplyRefund(ctx context.Context, brandID uuid.UUID, orderID string, amount decimal.Decimal) (*models.OrderRefund, error) {
	if err := validateRefund(brandID, orderID, amount); err != nil {
		return nil, err
	}
	return s.increment(ctx, s.repo, brandID, orderID, amount)
}

// ApplyRefundOnce records refundID and increments in one transaction. A
// replayed refundID returns the current record with applied=false.
func (s *service) ApplyRefundOnce(ctx context.Context, brandID uuid.UUID, orderID, refundID string, amount decimal.Decimal) (*models.OrderRefund, bool, error) {
	if err := validateRefund(brandID, orderID, amount); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(refundID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}

	var (
		record  *models.OrderRefund
		applied bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		inserted, err := repo.InsertRefundEvent(ctx, &models.RefundEvent{
			BrandID:  brandID,
			RefundID: refundID,
			OrderID:  orderID,
			Amount:   amount,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund event")
		}
		if !inserted {
			record, err = s.find(ctx, repo, brandID, orderID)
			return err
		}
		record, err = s.increment(ctx, repo, brandID, orderID, amount)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return record, applied, nil
}

func (s *service) Get(ctx context.Context, brandID uuid.UUID, orderID string) (*models.OrderRefund, error) {
	if err := validateKey(brandID, orderID); err != nil {
		return nil, err
	}
	return s.find(ctx, s.repo, brandID, orderID)
}

func (s *service) SumRefundsForOrdersCreatedBetween(ctx context.Context, brandID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	total, err := s.repo.SumRefundsCreatedBetween(ctx, brandID, start, end)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds")
	}
	return total, nil
}

func (s *service) increment(ctx context.Context, repo Repository, brandID uuid.UUID, orderID string, amount decimal.Decimal) (*models.OrderRefund, error) {
	rows, err := repo.Increment(ctx, brandID, orderID, amount, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
	}
	if rows == 0 {
		return nil, notFound(brandID, orderID)
	}
	return s.find(ctx, repo, brandID, orderID)
}

func (s *service) find(ctx context.Context, repo Repository, brandID uuid.UUID, orderID string) (*models.OrderRefund, error) {
	record, err := repo.Find(ctx, brandID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(brandID, orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger record")
	}
	return record, nil
}

func notFound(brandID uuid.UUID, orderID string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, &NotFoundError{BrandID: brandID, OrderID: orderID}, "refund references an order that was never seeded")
}

func validateKey(brandID uuid.UUID, orderID string) error {
	if brandID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "brand id is required")
	}
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return nil
}

func validateRefund(brandID uuid.UUID, orderID string, amount decimal.Decimal) error {
	if err := validateKey(brandID, orderID); err != nil {
		return err
	}
	if amount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be non-negative")
	}
	return nil
}
