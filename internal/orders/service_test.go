package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/brandpulse/internal/dbtest"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

func newTestService(t *testing.T) (Service, uuid.UUID) {
	t.Helper()
	conn := dbtest.New(t)
	brand := dbtest.Brand(t, conn, "")
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, brand.ID
}

func order(brandID uuid.UUID, id string, at time.Time, total string) models.Order {
	return models.Order{BrandID: brandID, ExternalID: id, OrderedAt: at, TotalPrice: decimal.RequireFromString(total)}
}

func TestUpsertKeepsOrderedAt(t *testing.T) {
	svc, brandID := newTestService(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	o := order(brandID, "1001", first, "500")
	require.NoError(t, svc.Upsert(ctx, &o))

	now := time.Now().UTC()
	replay := order(brandID, "1001", first.Add(48*time.Hour), "450")
	replay.Cancelled = true
	replay.CancelledAt = &now
	require.NoError(t, svc.Upsert(ctx, &replay))

	got, err := svc.FindByExternalID(ctx, brandID, "1001")
	require.NoError(t, err)
	assert.True(t, got.OrderedAt.Equal(first))
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("450")))
	assert.True(t, got.Cancelled)

	_, err = svc.FindByExternalID(ctx, brandID, "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestBulkUpsertCollectsPerRecordFailures(t *testing.T) {
	svc, brandID := newTestService(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	chunk := []models.Order{
		order(brandID, "1", at, "10"),
		order(brandID, "", at, "10"),
		order(brandID, "3", time.Time{}, "10"),
		order(brandID, "4", at, "20.50"),
	}
	result := svc.BulkUpsert(context.Background(), chunk)
	assert.Equal(t, 2, result.Upserted)
	require.Len(t, result.Failures, 2)
	assert.Error(t, result.Err())

	ok := svc.BulkUpsert(context.Background(), []models.Order{order(brandID, "1", at, "11")})
	assert.Equal(t, 1, ok.Upserted)
	assert.NoError(t, ok.Err())
}

func TestFromShopify(t *testing.T) {
	brandID := uuid.New()
	cancelledAt := time.Date(2024, 3, 2, 0, 0, 0, 0, time.FixedZone("X", 3600))
	o := FromShopify(brandID, shopify.Order{
		ID:          42,
		CreatedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600)),
		TotalPrice:  decimal.RequireFromString("12.00"),
		CancelledAt: &cancelledAt,
	})
	assert.Equal(t, "42", o.ExternalID)
	assert.Equal(t, time.UTC, o.OrderedAt.Location())
	assert.True(t, o.Cancelled)
	require.NotNil(t, o.CancelledAt)
	assert.Equal(t, time.UTC, o.CancelledAt.Location())
}
