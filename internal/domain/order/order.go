package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
	StatusRefunded       Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed:      {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing:     {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:        {StatusOutForDelivery, StatusReturned},
	StatusOutForDelivery: {StatusDelivered, StatusReturned},
	StatusDelivered:      {StatusReturned},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
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

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentMethod is the upper-cased method name sent to the store.
type PaymentMethod string

const (
	MethodCOD      PaymentMethod = "COD"
	MethodRazorpay PaymentMethod = "RAZORPAY"
)

// ParseMethod normalizes user input.
func ParseMethod(s string) PaymentMethod {
	return PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
}

// Online reports whether the method settles through the payment gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodRazorpay
}

// Item is a single order line as recorded by the store.
type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Order is created exactly once per successful checkout. The shipping
// address is a snapshot, not a live reference.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Status          Status          `json:"status"`
	Items           []Item          `json:"items"`
	ShippingAddress address.Address `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	CouponCode      string          `json:"couponCode,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Request is the order creation payload.
type Request struct {
	ShippingAddressID string        `json:"shippingAddressId"`
	PaymentMethod     PaymentMethod `json:"paymentMethod"`
	Items             []cart.Item   `json:"items"`
	CouponCode        string        `json:"couponCode,omitempty"`
}

// API is the store's order surface.
type API interface {
	CreateOrder(ctx context.Context, req Request) (*Order, error)
}

// IllegalTransitionError reports a rejected status change.
type IllegalTransitionError struct {
	From, To Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition %s -> %s", e.From, e.To)
}

// Transition validates a status change.
func Transition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}
