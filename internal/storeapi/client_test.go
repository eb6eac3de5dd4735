package storeapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// --- Helpers ---

type captured struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func newTestClient(t *testing.T, status int, response string) (*Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/api/", Timeout: 5 * time.Second}, nil)
	return c, got
}

func authed() context.Context {
	return WithToken(context.Background(), "tok-123")
}

// --- Tests ---

func TestClient_GetCart(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{
		"success": true,
		"data": {"items": [{"productId": "p1", "quantity": 2, "price": "1000.00", "product": {"id": "p1", "name": "Mug", "price": "1000.00", "stock": 5}}]}
	}`)

	lines, err := c.GetCart(authed())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/api/cart", got.path)
	assert.Equal(t, "Bearer tok-123", got.header.Get("Authorization"))
	require.Len(t, lines, 1)
	assert.Equal(t, "2000", lines[0].Total().String())
	assert.Equal(t, "Mug", lines[0].Product.Name)
}

func TestClient_ValidateCart(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{
		"success": true,
		"data": {"available": false, "invalidItems": [{"productId": "p1", "requestedQuantity": 3, "availableQuantity": 1, "message": "Only 1 left"}]}
	}`)

	res, err := c.ValidateCart(authed(), []cart.Item{{ProductID: "p1", Quantity: 3}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"items":[{"productId":"p1","quantity":3}]}`, string(got.body))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.False(t, res.Available)
	require.Len(t, res.InvalidItems, 1)
	assert.Equal(t, 1, res.InvalidItems[0].AvailableQuantity)
}

func TestClient_CreateOrder(t *testing.T) {
	c, got := newTestClient(t, http.StatusCreated, `{
		"success": true,
		"data": {"id": "o-1", "orderNumber": "ORD-1", "status": "PENDING", "paymentMethod": "COD", "paymentStatus": "PENDING", "totalAmount": "2210.00"}
	}`)

	ctx := idempotency.WithKey(authed(), "chk-1")
	o, err := c.CreateOrder(ctx, order.Request{
		ShippingAddressID: "a1",
		PaymentMethod:     order.MethodCOD,
		Items:             []cart.Item{{ProductID: "p1", Quantity: 2}},
		CouponCode:        "SAVE10",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/orders", got.path)
	assert.Equal(t, "chk-1", got.header.Get("Idempotency-Key"))
	assert.JSONEq(t, `{"shippingAddressId":"a1","paymentMethod":"COD","items":[{"productId":"p1","quantity":2}],"couponCode":"SAVE10"}`, string(got.body))
	assert.Equal(t, "ORD-1", o.OrderNumber)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "2210", o.TotalAmount.String())
}

func TestClient_ErrorsKeepServerMessage(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		wantMsg  string
	}{
		{
			name:     "4xx with message",
			status:   http.StatusBadRequest,
			response: `{"success": false, "message": "Insufficient stock for Mug"}`,
			wantMsg:  "Insufficient stock for Mug",
		},
		{
			name:     "unsuccessful envelope on 200",
			status:   http.StatusOK,
			response: `{"success": false, "message": "Coupon has expired"}`,
			wantMsg:  "Coupon has expired",
		},
		{
			name:     "non-json error page",
			status:   http.StatusBadGateway,
			response: `<html>bad gateway</html>`,
			wantMsg:  "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.status, tt.response)

			_, err := c.CreateOrder(authed(), order.Request{})
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestClient_CouponPathEscaped(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"success": true, "data": {"code": "SAVE10", "type": "PERCENTAGE", "value": "10", "maxDiscount": "150", "minOrderValue": "0", "isActive": true}}`)

	cp, err := c.ValidateCoupon(authed(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "/api/coupons/validate/SAVE10", got.path)
	require.NotNil(t, cp)
	assert.True(t, cp.MaxDiscount.Valid)
	assert.Equal(t, "150", cp.MaxDiscount.Decimal.String())
}

func TestClient_PaymentCreateOrder(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"success": true, "data": {"razorpayOrderId": "order_G1", "amount": 221000, "currency": "INR", "keyId": "rzp_live"}}`)

	g, err := c.CreateOrderFromCart(authed(), payment.CartCheckout{
		ShippingAddressID: "a1",
		Items:             []cart.Item{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/payments/create-order-from-cart", got.path)
	assert.Equal(t, &payment.GatewayOrder{ID: "order_G1", Amount: 221000, Currency: "INR", KeyID: "rzp_live"}, g)
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		wantOK   bool
		wantMsg  string
		wantErr  bool
		wantID   string
	}{
		{
			name:     "status success",
			status:   http.StatusOK,
			response: `{"status": "success", "data": {"orderId": "o-9"}}`,
			wantOK:   true,
			wantID:   "o-9",
		},
		{
			name:     "verified flag",
			status:   http.StatusOK,
			response: `{"success": true, "data": {"verified": true, "order": {"id": "o-10"}}}`,
			wantOK:   true,
			wantID:   "o-10",
		},
		{
			name:     "verified without envelope flags",
			status:   http.StatusOK,
			response: `{"data": {"verified": true, "orderId": "o-1"}}`,
			wantOK:   true,
			wantID:   "o-1",
		},
		{
			name:     "not verified",
			status:   http.StatusOK,
			response: `{"success": true, "message": "Signature mismatch", "data": {"verified": false}}`,
			wantMsg:  "Signature mismatch",
		},
		{
			name:     "status error",
			status:   http.StatusBadRequest,
			response: `{"status": "error", "message": "Invalid payment signature"}`,
			wantErr:  true,
			wantMsg:  "Invalid payment signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, got := newTestClient(t, tt.status, tt.response)

			v := payment.Verification{OrderID: "order_G1", PaymentID: "pay_1", Signature: "sig"}
			res, err := c.VerifyAndCreate(authed(), v, payment.CartCheckout{ShippingAddressID: "a1"})

			var body map[string]any
			require.NoError(t, json.Unmarshal(got.body, &body))
			assert.Equal(t, "pay_1", body["razorpay_payment_id"])
			assert.Equal(t, "a1", body["shippingAddressId"])

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantMsg, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.OK())
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Equal(t, tt.wantID, res.OrderID)
		})
	}
}

func TestClient_LegacyVerifySendsOrderID(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"success": true, "data": {"verified": true}}`)

	res, err := c.Verify(authed(), payment.Verification{OrderID: "order_G1", PaymentID: "pay_1", Signature: "sig"}, "o-7")
	require.NoError(t, err)
	assert.True(t, res.OK())

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, "o-7", body["orderId"])
	assert.Equal(t, "order_G1", body["razorpay_order_id"])
}

func TestClient_LegacyVerifyAcceptsBareVerifiedFlag(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"data": {"verified": true, "orderId": "o-1"}}`)

	res, err := c.Verify(authed(), payment.Verification{OrderID: "order_G1", PaymentID: "pay_1", Signature: "sig"}, "o-1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "o-1", res.OrderID)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Breaker: BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute},
	}, nil)

	for range 2 {
		_, err := c.GetCart(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.GetCart(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits")
}

func TestClient_BusinessErrorsDoNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t, http.StatusNotFound, `{"success": false, "message": "Coupon not found"}`)

	for range 10 {
		_, err := c.ValidateCoupon(context.Background(), "NOPE")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestClient_ClearCart(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"success": true}`)

	require.NoError(t, c.ClearCart(authed()))
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Equal(t, "/api/cart", got.path)
	assert.Empty(t, got.body)
}
