package brands

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/brandpulse/internal/repo"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
)

// Repository manages brand persistence.
type Repository interface {
	Create(ctx context.Context, brand *models.Brand) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	FindByShopDomain(ctx context.Context, domain string) (*models.Brand, error)
	List(ctx context.Context) ([]models.Brand, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a brand repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) Create(ctx context.Context, brand *models.Brand) error {
	brand.ShopDomain = normalizeDomain(brand.ShopDomain)
	return r.DB(ctx).Create(brand).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	var brand models.Brand
	if err := r.DB(ctx).Where("id = ?", id).First(&brand).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}

func (r *repository) FindByShopDomain(ctx context.Context, domain string) (*models.Brand, error) {
	var brand models.Brand
	err := r.DB(ctx).Where("shop_domain = ?", normalizeDomain(domain)).First(&brand).Error
	if err != nil {
		return nil, err
	}
	return &brand, nil
}

func (r *repository) List(ctx context.Context) ([]models.Brand, error) {
	var brands []models.Brand
	if err := r.DB(ctx).Order("created_at ASC").Find(&brands).Error; err != nil {
		return nil, err
	}
	return brands, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// IsNotFound reports whether err is a missing-row error from gorm.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
