package shopify

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Shop identifies the store a request is made against.
type Shop struct {
	Domain      string
	AccessToken string
}

// Order is the subset of the Admin API order resource the pipeline reads.
type Order struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	OrderNumber int64           `json:"order_number"`
	CreatedAt   time.Time       `json:"created_at"`
	CancelledAt *time.Time      `json:"cancelled_at"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Currency    string          `json:"currency"`
	Refunds     []Refund        `json:"refunds"`
}

// ExternalID returns the order id as the string key used by the ledger.
func (o Order) ExternalID() string {
	return strconv.FormatInt(o.ID, 10)
}

// Refund mirrors the refunds/create webhook and the order refunds array.
type Refund struct {
	ID               int64             `json:"id"`
	OrderID          int64             `json:"order_id"`
	CreatedAt        time.Time         `json:"created_at"`
	RefundLineItems  []RefundLineItem  `json:"refund_line_items"`
	OrderAdjustments []OrderAdjustment `json:"order_adjustments"`
}

// RefundLineItem is one refunded line.
type RefundLineItem struct {
	ID         int64           `json:"id"`
	LineItemID int64           `json:"line_item_id"`
	Quantity   int             `json:"quantity"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalTax   decimal.Decimal `json:"total_tax"`
}

// OrderAdjustment carries signed shipping and discrepancy corrections.
type OrderAdjustment struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

// ListParams filter a paginated order listing.
type ListParams struct {
	CreatedAtMin *time.Time
	CreatedAtMax *time.Time
	PageInfo     string
	Limit        int
}

// Page is one page of orders plus the cursor for the next page.
type Page struct {
	Orders       []Order
	NextPageInfo string
}

type orderEnvelope struct {
	Order Order `json:"order"`
}

type ordersEnvelope struct {
	Orders []Order `json:"orders"`
}
