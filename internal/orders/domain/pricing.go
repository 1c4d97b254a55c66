package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PricingPolicy decides the shipping fee of an order.
type PricingPolicy struct {
	// FreeShippingThreshold waives the fee when subtotal minus discount reaches it.
	FreeShippingThreshold decimal.Decimal
	// DefaultFee applies to destinations without a dedicated fee.
	DefaultFee decimal.Decimal
	// CityFees is keyed by normalized city name.
	CityFees map[string]decimal.Decimal
}

// DefaultPricingPolicy returns the stock configuration of the storefront.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: decimal.NewFromInt(500_000),
		DefaultFee:            decimal.NewFromInt(40_000),
		CityFees: map[string]decimal.Decimal{
			NormalizeCity("Hà Nội"):      decimal.NewFromInt(30_000),
			NormalizeCity("Hồ Chí Minh"): decimal.NewFromInt(30_000),
		},
	}
}

// NormalizeCity folds case and surrounding spaces so lookups ignore both.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}

// ShippingFee returns the fee for shipping goods worth subtotal-discount to city.
func (p PricingPolicy) ShippingFee(subtotal, discount decimal.Decimal, city string) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && subtotal.Sub(discount).GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	if fee, ok := p.CityFees[NormalizeCity(city)]; ok {
		return fee
	}
	return p.DefaultFee
}

// LineSubtotal is (unitPrice - discount) * quantity.
func LineSubtotal(unitPrice, discount decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Sub(discount).Mul(decimal.NewFromInt(int64(quantity)))
}

// Totals fills ItemCount, Subtotal, ShippingFee and Total from the order items.
func (p PricingPolicy) Totals(o *Order) {
	subtotal := decimal.Zero
	count := 0
	for i := range o.Items {
		item := &o.Items[i]
		item.Subtotal = LineSubtotal(item.UnitPrice, item.Discount, item.Quantity)
		subtotal = subtotal.Add(item.Subtotal)
		count += item.Quantity
	}
	o.ItemCount = count
	o.Subtotal = subtotal
	o.ShippingFee = p.ShippingFee(subtotal, o.Discount, o.Shipping.City)
	o.Total = subtotal.Sub(o.Discount).Add(o.ShippingFee)
}
