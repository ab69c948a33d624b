package brands

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// Service resolves brands for the pipeline.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	ResolveByShopDomain(ctx context.Context, domain string) (*models.Brand, error)
	List(ctx context.Context) ([]models.Brand, error)
}

type service struct {
	repo Repository
}

// NewService wires a brand service with repo.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("brand repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "brand id is required")
	}
	brand, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err, fmt.Sprintf("brand %s", id))
	}
	return brand, nil
}

func (s *service) ResolveByShopDomain(ctx context.Context, domain string) (*models.Brand, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop domain is required")
	}
	brand, err := s.repo.FindByShopDomain(ctx, domain)
	if err != nil {
		return nil, mapLookupErr(err, fmt.Sprintf("brand for shop %s", domain))
	}
	return brand, nil
}

func (s *service) List(ctx context.Context) ([]models.Brand, error) {
	brands, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list brands")
	}
	return brands, nil
}

func mapLookupErr(err error, what string) error {
	if IsNotFound(err) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}

// Location returns the brand's IANA timezone, or UTC when unset or invalid.
func Location(brand *models.Brand) *time.Location {
	if brand == nil {
		return time.UTC
	}
	name := strings.TrimSpace(brand.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Shop returns the platform credentials for brand.
func Shop(brand *models.Brand) shopify.Shop {
	return shopify.Shop{Domain: brand.ShopDomain, AccessToken: brand.AccessToken}
}
