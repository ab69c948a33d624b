// Package dbtest opens isolated in-memory sqlite databases for repository tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/brandpulse/pkg/db/models"
)

// New returns a migrated database private to the test.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// One connection keeps sqlite from reporting table locks under concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

// Brand inserts a brand with the given timezone.
func Brand(t *testing.T, conn *gorm.DB, timezone string) models.Brand {
	t.Helper()
	brand := models.Brand{
		ID:         uuid.New(),
		Name:       "Test Brand",
		ShopDomain: uuid.NewString() + ".myshopify.com",
		Timezone:   timezone,
	}
	require.NoError(t, conn.Create(&brand).Error)
	return brand
}
