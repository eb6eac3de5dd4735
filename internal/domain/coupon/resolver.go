package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Resolver validates user supplied codes against a Source.
type Resolver struct {
	source Source
	now    func() time.Time
}

// NewResolver creates a Resolver backed by the given Source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, now: time.Now}
}

// Validate looks up the coupon for code and checks that it applies to the
// subtotal. Store rejections are wrapped, keeping the original error in the
// chain so its message can be shown to the user.
func (r *Resolver) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Coupon, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	c, err := r.source.ValidateCoupon(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if c == nil {
		return nil, ErrInvalidCoupon
	}

	if err := c.Check(subtotal, r.now()); err != nil {
		return nil, err
	}
	return c, nil
}
