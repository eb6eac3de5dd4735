package storeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var (
	_ cart.API        = (*Client)(nil)
	_ coupon.Source   = (*Client)(nil)
	_ address.Book    = (*Client)(nil)
	_ order.API       = (*Client)(nil)
	_ payment.Gateway = (*Client)(nil)

	_ payment.PublicError = (*APIError)(nil)
)

type cartBody struct {
	Items []cart.Line `json:"items"`
}

func (c *Client) GetCart(ctx context.Context) ([]cart.Line, error) {
	var out cartBody
	if _, err := c.do(ctx, http.MethodGet, "/cart", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ValidateCart(ctx context.Context, items []cart.Item) (*cart.Validation, error) {
	var out cart.Validation
	in := struct {
		Items []cart.Item `json:"items"`
	}{Items: items}
	if _, err := c.do(ctx, http.MethodPost, "/cart/validate", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearCart(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart", nil, nil)
	return err
}

func (c *Client) ValidateCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out coupon.Coupon
	if _, err := c.do(ctx, http.MethodGet, "/coupons/validate/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	if out.Code == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) ListAddresses(ctx context.Context) ([]address.Address, error) {
	var out []address.Address
	if _, err := c.do(ctx, http.MethodGet, "/addresses", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAddress(ctx context.Context, d address.Draft) (*address.Address, error) {
	var out address.Address
	if _, err := c.do(ctx, http.MethodPost, "/addresses", d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateOrder(ctx context.Context, req order.Request) (*order.Order, error) {
	var out order.Order
	if _, err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// gatewayOrder is the store's create-order payload.
type gatewayOrder struct {
	ID              string `json:"id"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	KeyID           string `json:"keyId"`
}

func (g gatewayOrder) domain() *payment.GatewayOrder {
	id := g.RazorpayOrderID
	if id == "" {
		id = g.ID
	}
	return &payment.GatewayOrder{ID: id, Amount: g.Amount, Currency: g.Currency, KeyID: g.KeyID}
}

func (c *Client) CreateOrderFromCart(ctx context.Context, cc payment.CartCheckout) (*payment.GatewayOrder, error) {
	var out gatewayOrder
	if _, err := c.do(ctx, http.MethodPost, "/payments/create-order-from-cart", cc, &out); err != nil {
		return nil, err
	}
	return out.domain(), nil
}

func (c *Client) CreateOrderForOrder(ctx context.Context, orderID string) (*payment.GatewayOrder, error) {
	var out gatewayOrder
	in := struct {
		OrderID string `json:"orderId"`
	}{OrderID: orderID}
	if _, err := c.do(ctx, http.MethodPost, "/payments/create-order", in, &out); err != nil {
		return nil, err
	}
	return out.domain(), nil
}

type verifyData struct {
	Verified bool   `json:"verified"`
	OrderID  string `json:"orderId"`
	Order    *struct {
		ID string `json:"id"`
	} `json:"order,omitempty"`
}

func (c *Client) VerifyAndCreate(ctx context.Context, v payment.Verification, cc payment.CartCheckout) (*payment.VerifyResult, error) {
	in := struct {
		payment.Verification
		payment.CartCheckout
	}{v, cc}
	return c.verify(ctx, "/payments/verify-and-create", in)
}

func (c *Client) Verify(ctx context.Context, v payment.Verification, orderID string) (*payment.VerifyResult, error) {
	in := struct {
		payment.Verification
		OrderID string `json:"orderId"`
	}{v, orderID}
	return c.verify(ctx, "/payments/verify", in)
}

// verifiedSuccess accepts {data.verified: true} regardless of the envelope
// flags.
func verifiedSuccess(env *envelope) bool {
	if flagged(env) {
		return true
	}
	var d struct {
		Verified bool `json:"verified"`
	}
	return len(env.Data) > 0 && json.Unmarshal(env.Data, &d) == nil && d.Verified
}

func (c *Client) verify(ctx context.Context, path string, in any) (*payment.VerifyResult, error) {
	var out verifyData
	env, err := c.call(ctx, http.MethodPost, path, in, &out, verifiedSuccess)
	if err != nil {
		return nil, err
	}
	orderID := out.OrderID
	if orderID == "" && out.Order != nil {
		orderID = out.Order.ID
	}
	return &payment.VerifyResult{
		Status:   env.Status,
		Verified: out.Verified,
		OrderID:  orderID,
		Message:  env.Message,
	}, nil
}
