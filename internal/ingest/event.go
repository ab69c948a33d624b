package ingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/pkg/enums"
)

// Event is a normalized inbound commerce event. Exactly one of ShopDomain or
// BrandID identifies the brand.
type Event struct {
	ID         string                  `json:"id" validate:"required"`
	Type       enums.CommerceEventType `json:"type" validate:"required"`
	ShopDomain string                  `json:"shopDomain,omitempty" validate:"required_without=BrandID"`
	BrandID    *uuid.UUID              `json:"brandId,omitempty" validate:"required_without=ShopDomain"`
	OccurredAt time.Time               `json:"occurredAt"`
	Payload    json.RawMessage         `json:"payload" validate:"required"`
}

// SyncRequest is the payload of a historical_sync event.
type SyncRequest struct {
	CreatedAtMin *time.Time `json:"createdAtMin,omitempty"`
	CreatedAtMax *time.Time `json:"createdAtMax,omitempty"`
	RequestedBy  string     `json:"requestedBy,omitempty"`
}
