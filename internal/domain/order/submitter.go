package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// Sentinel errors for order submission.
var (
	ErrEmptyItems     = errors.New("items required")
	ErrMissingAddress = errors.New("shipping address required")
	ErrMissingMethod  = errors.New("payment method required")
	ErrOnlineMethod   = errors.New("online payments must go through the payment gateway")
)

// stockMessage replaces raw store messages about stock shortages.
const stockMessage = "Some items in your cart are no longer available in the requested quantity. Please review your cart and try again."

// FriendlyMessage returns the text to show the user for a submission error.
// Store messages are shown verbatim except stock shortages, which get a
// friendlier explanation.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "insufficient stock") || strings.Contains(lower, "out of stock") {
		return stockMessage
	}
	return msg
}

// CartClearer empties the user's cart after an order is committed.
type CartClearer interface {
	ClearCart(ctx context.Context) error
}

// Submission is the input to Submit.
type Submission struct {
	AddressID     string
	PaymentMethod string
	Lines         []cart.Line
	CouponCode    string
}

// Submitter assembles order payloads and sends them to the store.
type Submitter struct {
	orders API
	cart   CartClearer
}

// NewSubmitter creates a Submitter.
func NewSubmitter(orders API, cart CartClearer) *Submitter {
	return &Submitter{orders: orders, cart: cart}
}

// Build validates s and produces the order creation payload.
func Build(s Submission) (Request, error) {
	if s.AddressID == "" {
		return Request{}, ErrMissingAddress
	}
	if len(s.Lines) == 0 {
		return Request{}, ErrEmptyItems
	}
	method := ParseMethod(s.PaymentMethod)
	if method == "" {
		return Request{}, ErrMissingMethod
	}
	for _, l := range s.Lines {
		if l.Quantity <= 0 {
			return Request{}, &cart.InvalidQuantityError{ProductID: l.ProductID}
		}
	}
	return Request{
		ShippingAddressID: s.AddressID,
		PaymentMethod:     method,
		Items:             cart.Items(s.Lines),
		CouponCode:        s.CouponCode,
	}, nil
}

// Submit creates the order and then clears the cart. Clearing is best
// effort: once the order exists a failure there is logged, not returned.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*Order, error) {
	req, err := Build(sub)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod.Online() {
		return nil, ErrOnlineMethod
	}

	o, err := s.orders.CreateOrder(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.ClearCart(ctx)
	return o, nil
}

// ClearCart empties the cart, logging any failure.
func (s *Submitter) ClearCart(ctx context.Context) {
	if err := s.cart.ClearCart(ctx); err != nil {
		zctx.From(ctx).Warn("Clear cart after order failed", zap.Error(err))
	}
}
