package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the subtotal, optionally capped.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixed discounts a fixed amount, capped at the subtotal.
	TypeFixed Type = "FIXED"
)

var (
	// ErrInvalidCoupon is returned when a code is empty, unknown or has an
	// unsupported discount type.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponInactive is returned when the store has disabled the coupon.
	ErrCouponInactive = errors.New("coupon is not active")
)

// MinOrderError indicates the cart subtotal is below the coupon's minimum
// order value.
type MinOrderError struct {
	Code          string
	MinOrderValue decimal.Decimal
}

func (e *MinOrderError) Error() string {
	return fmt.Sprintf("minimum order value of %s required for coupon %s", e.MinOrderValue.StringFixed(2), e.Code)
}

// Coupon is a discount descriptor as issued by the store. It is immutable
// once fetched for a checkout session.
type Coupon struct {
	Code           string              `json:"code"`
	Type           Type                `json:"type"`
	Value          decimal.Decimal     `json:"value"`
	MaxDiscount    decimal.NullDecimal `json:"maxDiscount"`
	MinOrderValue  decimal.Decimal     `json:"minOrderValue"`
	ValidFrom      *time.Time          `json:"validFrom,omitempty"`
	ValidUntil     *time.Time          `json:"validUntil,omitempty"`
	UsageLimit     *int                `json:"usageLimit,omitempty"`
	UserUsageLimit *int                `json:"userUsageLimit,omitempty"`
	IsActive       bool                `json:"isActive"`
	Description    string              `json:"description,omitempty"`
}

// Source looks up a coupon by code.
type Source interface {
	ValidateCoupon(ctx context.Context, code string) (*Coupon, error)
}

// Normalize trims and upper-cases a user supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
