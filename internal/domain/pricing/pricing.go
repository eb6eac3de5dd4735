// Package pricing computes the single price breakdown every checkout view
// and transaction uses.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

// DefaultTaxRate is the flat GST rate applied to the subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.18")

// Breakdown is the full price of a checkout.
// Total = Subtotal + Shipping + Tax - Discount and is never negative.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Calculator derives a Breakdown from cart lines and an optional coupon.
type Calculator struct {
	taxRate  decimal.Decimal
	shipping decimal.Decimal
}

// NewCalculator creates a Calculator. Negative inputs are treated as zero.
func NewCalculator(taxRate, shipping decimal.Decimal) *Calculator {
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}
	if shipping.IsNegative() {
		shipping = decimal.Zero
	}
	return &Calculator{taxRate: taxRate, shipping: shipping}
}

// Calculate is a pure function of its inputs. Tax is rounded to whole
// currency units; the discount is clamped to [0, subtotal].
func (c *Calculator) Calculate(lines []cart.Line, applied *coupon.Coupon) Breakdown {
	subtotal := Subtotal(lines)
	tax := subtotal.Mul(c.taxRate).Round(0)
	discount := applied.Discount(subtotal)

	total := subtotal.Add(c.shipping).Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Breakdown{
		Subtotal: subtotal,
		Shipping: c.shipping,
		Tax:      tax,
		Discount: discount,
		Total:    total,
	}
}

// Subtotal returns the sum of unit price times quantity across lines.
func Subtotal(lines []cart.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}
