package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// SumRefundLineItems totals subtotal plus tax over every refunded line.
func SumRefundLineItems(items []shopify.RefundLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal).Add(item.TotalTax)
	}
	return total
}

// SumOrderAdjustments totals the signed order-level adjustment amounts.
func SumOrderAdjustments(adjustments []shopify.OrderAdjustment) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(adj.Amount)
	}
	return total
}

// ShopifyRefundAmount is line items minus adjustments, clamped at zero.
// Shopify reports refunded shipping as a negative adjustment, so subtracting
// it adds the shipping back.
func ShopifyRefundAmount(refund shopify.Refund) decimal.Decimal {
	amount := SumRefundLineItems(refund.RefundLineItems).Sub(SumOrderAdjustments(refund.OrderAdjustments))
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
