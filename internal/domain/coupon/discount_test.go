package coupon

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCoupon_Discount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *Coupon
		subtotal decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "percentage capped by max discount",
			coupon:   &Coupon{Type: TypePercentage, Value: dec("10"), MaxDiscount: decimal.NewNullDecimal(dec("150"))},
			subtotal: dec("2000"),
			want:     dec("150"),
		},
		{
			name:     "percentage under cap",
			coupon:   &Coupon{Type: TypePercentage, Value: dec("10"), MaxDiscount: decimal.NewNullDecimal(dec("500"))},
			subtotal: dec("2000"),
			want:     dec("200"),
		},
		{
			name:     "percentage without cap",
			coupon:   &Coupon{Type: TypePercentage, Value: dec("15")},
			subtotal: dec("99.99"),
			want:     dec("15"),
		},
		{
			name:     "fixed below subtotal",
			coupon:   &Coupon{Type: TypeFixed, Value: dec("100")},
			subtotal: dec("500"),
			want:     dec("100"),
		},
		{
			name:     "fixed above subtotal clamps to subtotal",
			coupon:   &Coupon{Type: TypeFixed, Value: dec("1000")},
			subtotal: dec("500"),
			want:     dec("500"),
		},
		{
			name:     "percentage over 100 clamps to subtotal",
			coupon:   &Coupon{Type: TypePercentage, Value: dec("150")},
			subtotal: dec("80"),
			want:     dec("80"),
		},
		{
			name:     "negative fixed value floors at zero",
			coupon:   &Coupon{Type: TypeFixed, Value: dec("-5")},
			subtotal: dec("50"),
			want:     decimal.Zero,
		},
		{
			name:     "zero subtotal",
			coupon:   &Coupon{Type: TypeFixed, Value: dec("50")},
			subtotal: decimal.Zero,
			want:     decimal.Zero,
		},
		{
			name:     "unknown type yields nothing",
			coupon:   &Coupon{Type: "BOGO", Value: dec("50")},
			subtotal: dec("100"),
			want:     decimal.Zero,
		},
		{
			name:     "nil coupon",
			subtotal: dec("100"),
			want:     decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(tt.subtotal)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
			assert.False(t, got.IsNegative())
			assert.True(t, got.LessThanOrEqual(decimal.Max(tt.subtotal, decimal.Zero)))
		})
	}
}

func TestCoupon_Check(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		coupon   Coupon
		subtotal decimal.Decimal
		wantErr  error
		wantMin  bool
	}{
		{
			name:     "active within window",
			coupon:   Coupon{Code: "SAVE10", Type: TypePercentage, IsActive: true, ValidFrom: &past, ValidUntil: &future},
			subtotal: dec("100"),
		},
		{
			name:     "inactive",
			coupon:   Coupon{Code: "OFF", Type: TypeFixed},
			subtotal: dec("100"),
			wantErr:  ErrCouponInactive,
		},
		{
			name:     "expired",
			coupon:   Coupon{Code: "OLD", Type: TypeFixed, IsActive: true, ValidUntil: &past},
			subtotal: dec("100"),
			wantErr:  ErrCouponExpired,
		},
		{
			name:     "not yet valid",
			coupon:   Coupon{Code: "SOON", Type: TypeFixed, IsActive: true, ValidFrom: &future},
			subtotal: dec("100"),
			wantErr:  ErrCouponExpired,
		},
		{
			name:     "unsupported type",
			coupon:   Coupon{Code: "X", Type: "BOGO", IsActive: true},
			subtotal: dec("100"),
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "below minimum order value",
			coupon:   Coupon{Code: "BIG", Type: TypeFixed, IsActive: true, MinOrderValue: dec("500")},
			subtotal: dec("499.99"),
			wantMin:  true,
		},
		{
			name:     "exactly minimum order value",
			coupon:   Coupon{Code: "BIG", Type: TypeFixed, IsActive: true, MinOrderValue: dec("500")},
			subtotal: dec("500"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coupon.Check(tt.subtotal, now)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantMin:
				var minErr *MinOrderError
				require.True(t, errors.As(err, &minErr))
				assert.Equal(t, tt.coupon.Code, minErr.Code)
				assert.Contains(t, err.Error(), "500.00")
			default:
				require.NoError(t, err)
			}
		})
	}
}
