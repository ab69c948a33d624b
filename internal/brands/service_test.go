package brands

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/brandpulse/internal/dbtest"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
)

func TestResolveByShopDomain(t *testing.T) {
	conn := dbtest.New(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo)
	require.NoError(t, err)

	ctx := context.Background()
	brand := &models.Brand{Name: "Acme", ShopDomain: " Acme.myshopify.com ", Timezone: "America/New_York"}
	require.NoError(t, repo.Create(ctx, brand))
	require.NotEqual(t, uuid.Nil, brand.ID)

	got, err := svc.ResolveByShopDomain(ctx, "ACME.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, brand.ID, got.ID)

	_, err = svc.ResolveByShopDomain(ctx, "missing.myshopify.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.ResolveByShopDomain(ctx, "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	got, err = svc.Get(ctx, brand.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	_, err = svc.Get(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Location(nil))
	assert.Equal(t, time.UTC, Location(&models.Brand{}))
	assert.Equal(t, time.UTC, Location(&models.Brand{Timezone: "Mars/Olympus"}))
	assert.Equal(t, "America/New_York", Location(&models.Brand{Timezone: "America/New_York"}).String())
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}
