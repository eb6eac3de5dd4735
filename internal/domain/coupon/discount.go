package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount returns the amount this coupon takes off the given subtotal.
// The result is always within [0, subtotal].
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if c == nil || !subtotal.IsPositive() {
		return zero
	}

	var amount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		amount = applyPercentage(c, subtotal)
	case TypeFixed:
		amount = c.Value
	default:
		return zero
	}

	return clamp(amount, subtotal).Round(2)
}

// Check reports whether the coupon may be applied to the subtotal at the
// given time. The store re-validates at order time; this check only keeps
// the displayed pricing honest.
func (c *Coupon) Check(subtotal decimal.Decimal, now time.Time) error {
	switch c.Type {
	case TypePercentage, TypeFixed:
	default:
		return ErrInvalidCoupon
	}
	if !c.IsActive {
		return ErrCouponInactive
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrCouponExpired
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return &MinOrderError{Code: c.Code, MinOrderValue: c.MinOrderValue}
	}
	return nil
}

func applyPercentage(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(c.Value).Div(hundred)
	if c.MaxDiscount.Valid {
		amount = decimal.Min(amount, c.MaxDiscount.Decimal)
	}
	return amount
}

// clamp bounds d to [0, upper].
func clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return decimal.Min(d, upper)
}
