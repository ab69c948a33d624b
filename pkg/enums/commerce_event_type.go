package enums

import "fmt"

// CommerceEventType is the normalized type of an inbound commerce event.
type CommerceEventType string

const (
	CommerceEventOrderCreated   CommerceEventType = "order_created"
	CommerceEventRefundCreated  CommerceEventType = "refund_created"
	CommerceEventHistoricalSync CommerceEventType = "historical_sync"
)

var validCommerceEventTypes = []CommerceEventType{
	CommerceEventOrderCreated,
	CommerceEventRefundCreated,
	CommerceEventHistoricalSync,
}

// IsValid reports whether the value matches a known commerce event type.
func (c CommerceEventType) IsValid() bool {
	for _, candidate := range validCommerceEventTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCommerceEventType converts the raw string to CommerceEventType.
func ParseCommerceEventType(value string) (CommerceEventType, error) {
	for _, candidate := range validCommerceEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commerce event type %q", value)
}
