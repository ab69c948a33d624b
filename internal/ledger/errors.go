package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrRecordNotFound matches refunds for orders that were never seeded.
var ErrRecordNotFound = errors.New("ledger record not found")

// NotFoundError identifies the missing (brand, order) pair.
type NotFoundError struct {
	BrandID uuid.UUID
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ledger record for brand %s order %s", e.BrandID, e.OrderID)
}

// Is lets errors.Is(err, ErrRecordNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}
