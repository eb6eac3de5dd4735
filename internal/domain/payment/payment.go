// Package payment drives a single gateway payment attempt from order
// creation through widget callbacks to server-side verification.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// Status is the state of a payment session.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusCreatingOrder Status = "creating_order"
	StatusPending       Status = "payment_pending"
	StatusVerifying     Status = "verifying"
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	// StatusExpired is only assigned to recorded attempts by reconciliation.
	StatusExpired Status = "expired"
)

var transitions = map[Status][]Status{
	StatusIdle:          {StatusCreatingOrder},
	StatusCreatingOrder: {StatusPending, StatusFailed},
	StatusPending:       {StatusVerifying, StatusFailed},
	StatusVerifying:     {StatusSuccess, StatusFailed},
}

// InFlight lists the statuses of attempts that have not resolved.
var InFlight = []Status{StatusCreatingOrder, StatusPending, StatusVerifying}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// IllegalTransitionError reports a rejected state change.
type IllegalTransitionError struct {
	From, To Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal payment transition %s -> %s", e.From, e.To)
}

var (
	// ErrOrderMismatch is returned when the widget reports a payment for a
	// different gateway order than the one this session created.
	ErrOrderMismatch = errors.New("payment does not match the gateway order")
	// ErrPaymentReplayed is returned when a gateway payment ID has already
	// completed another attempt.
	ErrPaymentReplayed = errors.New("payment has already been used")
)

// Mode selects how the gateway order is minted.
type Mode string

const (
	// ModeCart mints a gateway order from cart contents; the store creates
	// the order only after verification.
	ModeCart Mode = "cart"
	// ModeOrder pays for an existing store order.
	ModeOrder Mode = "order"
)

// GatewayOrder is the gateway's order as minted by the store.
// Amount is in minor currency units.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId,omitempty"`
}

// MajorAmount converts Amount to major currency units.
func (g GatewayOrder) MajorAmount() decimal.Decimal {
	return decimal.New(g.Amount, -2)
}

// Verification is the triple the widget hands back on success.
type Verification struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// CartCheckout is the cart payload for the cart-based path.
type CartCheckout struct {
	ShippingAddressID string      `json:"shippingAddressId"`
	Items             []cart.Item `json:"items"`
	CouponCode        string      `json:"couponCode,omitempty"`
}

// VerifyResult is the store's verdict on a payment.
type VerifyResult struct {
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
	OrderID  string `json:"orderId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// OK reports whether the store accepted the payment.
func (r VerifyResult) OK() bool {
	return r.Status == "success" || r.Verified
}

// Gateway is the store's payment surface. The store alone verifies
// signatures.
type Gateway interface {
	CreateOrderFromCart(ctx context.Context, c CartCheckout) (*GatewayOrder, error)
	CreateOrderForOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
	VerifyAndCreate(ctx context.Context, v Verification, c CartCheckout) (*VerifyResult, error)
	Verify(ctx context.Context, v Verification, orderID string) (*VerifyResult, error)
}

// Attempt is the durable record of a gateway order, kept so unverified
// orders can be reconciled.
type Attempt struct {
	ID             string
	CheckoutID     string
	Mode           Mode
	GatewayOrderID string
	OrderID        string
	Amount         int64
	Currency       string
	Status         Status
	PaymentID      string
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AttemptStore persists attempts.
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	UpdateStatus(ctx context.Context, id string, status Status, paymentID, message string) error
	PaymentUsed(ctx context.Context, paymentID string) (bool, error)
}
