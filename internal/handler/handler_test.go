package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/idempotency"
	"github.com/xenking/storefront-checkout/internal/storeapi"
	"github.com/xenking/storefront-checkout/internal/validation"
)

// --- Mock implementations ---

type mockCheckout struct {
	owner string
	token string

	view     *checkout.View
	viewErr  error
	code     string
	draft    address.Draft
	addrID   string
	order    *order.Order
	orderErr error
	orders   atomic.Int32
	payReq   checkout.PaymentRequest
	options  *payment.WidgetOptions
	payErr   error
	verify   payment.Verification
	result   payment.Result
}

func (m *mockCheckout) record(ctx context.Context, owner string) {
	m.owner = owner
	m.token = storeapi.TokenFrom(ctx)
}

func (m *mockCheckout) Start(ctx context.Context, owner string) (*checkout.View, error) {
	m.record(ctx, owner)
	return m.view, m.viewErr
}

func (m *mockCheckout) View(ctx context.Context, _, owner string) (*checkout.View, error) {
	m.record(ctx, owner)
	return m.view, m.viewErr
}

func (m *mockCheckout) ApplyCoupon(ctx context.Context, _, owner, code string) (*checkout.View, error) {
	m.record(ctx, owner)
	m.code = code
	return m.view, m.viewErr
}

func (m *mockCheckout) RemoveCoupon(ctx context.Context, _, owner string) (*checkout.View, error) {
	m.record(ctx, owner)
	return m.view, m.viewErr
}

func (m *mockCheckout) SelectAddress(ctx context.Context, _, owner, addressID string) (*checkout.View, error) {
	m.record(ctx, owner)
	m.addrID = addressID
	return m.view, m.viewErr
}

func (m *mockCheckout) CreateAddress(ctx context.Context, _, owner string, d address.Draft) (*checkout.View, error) {
	m.record(ctx, owner)
	m.draft = d
	return m.view, m.viewErr
}

func (m *mockCheckout) CheckDelivery(pincode string) (bool, error) {
	if !validation.ValidPincode(pincode) {
		return false, address.ErrInvalidPincode
	}
	return true, nil
}

func (m *mockCheckout) PlaceOrder(ctx context.Context, _, owner, _ string) (*order.Order, error) {
	m.record(ctx, owner)
	m.orders.Add(1)
	return m.order, m.orderErr
}

func (m *mockCheckout) BeginPayment(ctx context.Context, _, owner string, req checkout.PaymentRequest) (*payment.WidgetOptions, error) {
	m.record(ctx, owner)
	m.payReq = req
	return m.options, m.payErr
}

func (m *mockCheckout) VerifyPayment(ctx context.Context, _, owner string, v payment.Verification) (payment.Result, error) {
	m.record(ctx, owner)
	m.verify = v
	return m.result, m.payErr
}

func (m *mockCheckout) DismissPayment(ctx context.Context, _, owner string) (payment.Result, error) {
	m.record(ctx, owner)
	return m.result, m.payErr
}

// --- Helpers ---

const testToken = "tok-123"

var testPepper = []byte("pepper")

func expectedOwner() string {
	mac := hmac.New(sha256.New, testPepper)
	mac.Write([]byte(testToken))
	return hex.EncodeToString(mac.Sum(nil))
}

func newRouter(m *mockCheckout, ledger idempotency.Ledger) http.Handler {
	r := chi.NewRouter()
	NewHandler(m, NewAuthenticator(testPepper), ledger).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, w.Code, b.Code)
	return b
}

func testView() *checkout.View {
	return &checkout.View{
		SessionID: "chk-1",
		Items: []cart.Line{{
			ProductID: "p1",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("1250"),
		}},
		CanPay: true,
	}
}

// --- Tests ---

func TestAuth(t *testing.T) {
	m := &mockCheckout{view: testView()}
	h := newRouter(m, nil)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/checkout/sessions", "", map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("owner and token", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/checkout/sessions", "", nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, expectedOwner(), m.owner)
		assert.Equal(t, testToken, m.token)
	})

	t.Run("pincode is public", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/checkout/pincode/560001", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"pincode":"560001","available":true}`, w.Body.String())
	})
}

func TestStartSession(t *testing.T) {
	m := &mockCheckout{view: testView()}
	w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions", "", nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/api/checkout/sessions/chk-1", w.Header().Get("Location"))

	var v checkout.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "chk-1", v.SessionID)
	require.Len(t, v.Items, 1)
	assert.True(t, v.Items[0].UnitPrice.Equal(decimal.NewFromInt(1250)))
}

func TestSessionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "not found",
			err:      checkout.ErrSessionNotFound,
			wantCode: http.StatusNotFound,
			wantMsg:  "Checkout session not found. Please start again.",
		},
		{
			name:     "empty cart",
			err:      errors.Wrap(cart.ErrEmptyCart, "load cart"),
			wantCode: http.StatusUnprocessableEntity,
			wantMsg:  "Your cart is empty.",
		},
		{
			name: "unavailable items",
			err: &cart.UnavailableError{Items: []cart.InvalidItem{
				{ProductID: "p1", Message: "Blue Shirt is out of stock"},
				{ProductID: "p2", Message: "Only 1 Red Cap left"},
			}},
			wantCode: http.StatusUnprocessableEntity,
			wantMsg:  "Blue Shirt is out of stock; Only 1 Red Cap left",
		},
		{
			name:     "store down",
			err:      errors.Wrap(storeapi.ErrUnavailable, "get cart"),
			wantCode: http.StatusServiceUnavailable,
			wantMsg:  storeapi.ErrUnavailable.Error(),
		},
		{
			name:     "store rejection",
			err:      errors.Wrap(&storeapi.APIError{Status: http.StatusForbidden, Message: "Account suspended"}, "get cart"),
			wantCode: http.StatusForbidden,
			wantMsg:  "Account suspended",
		},
		{
			name:     "store failure",
			err:      &storeapi.APIError{Status: http.StatusInternalServerError, Message: "db down"},
			wantCode: http.StatusBadGateway,
			wantMsg:  "db down",
		},
		{
			name:     "unknown",
			err:      errors.New("nil pointer somewhere"),
			wantCode: http.StatusInternalServerError,
			wantMsg:  msgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockCheckout{viewErr: tt.err}
			w := do(t, newRouter(m, nil), http.MethodGet, "/api/checkout/sessions/chk-1", "", nil)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, w).Message)
		})
	}
}

func TestApplyCoupon(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/coupon", `{"code":"SAVE10"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "SAVE10", m.code)
	})

	t.Run("missing code", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/coupon", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, map[string]string{"code": "is required"}, decodeError(t, w).Fields)
		assert.Empty(t, m.code)
	})

	t.Run("malformed", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/coupon", `{"code":`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Malformed JSON body", decodeError(t, w).Message)
	})

	t.Run("min order", func(t *testing.T) {
		m := &mockCheckout{viewErr: &coupon.MinOrderError{Code: "BIG", MinOrderValue: decimal.NewFromInt(5000)}}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/coupon", `{"code":"BIG"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "minimum order value of 5000.00 required for coupon BIG", decodeError(t, w).Message)
	})

	t.Run("expired", func(t *testing.T) {
		m := &mockCheckout{viewErr: errors.Wrap(coupon.ErrCouponExpired, "validate coupon")}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/coupon", `{"code":"OLD"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "This coupon has expired.", decodeError(t, w).Message)
	})

	t.Run("remove", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodDelete, "/api/checkout/sessions/chk-1/coupon", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAddresses(t *testing.T) {
	t.Run("select", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodPut, "/api/checkout/sessions/chk-1/address", `{"addressId":"a2"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "a2", m.addrID)
	})

	t.Run("create", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		body := `{"firstName":"Ravi","lastName":"Rao","address":"12 MG Road","city":"Bengaluru","state":"KA","pincode":"560001","phone":"9123456780"}`
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/addresses", body, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "Ravi", m.draft.FirstName)
		assert.Equal(t, "560001", m.draft.Pincode)
	})

	t.Run("create invalid", func(t *testing.T) {
		m := &mockCheckout{viewErr: &validation.Error{Fields: map[string]string{
			"pincode": "must be a 6 digit pincode not starting with 0",
		}}}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/addresses", `{"pincode":"012345"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Fields, "pincode")
	})

	t.Run("unknown field", func(t *testing.T) {
		m := &mockCheckout{view: testView()}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/addresses", `{"zip":"560001"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid pincode", func(t *testing.T) {
		m := &mockCheckout{}
		w := do(t, newRouter(m, nil), http.MethodGet, "/api/checkout/pincode/12345", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPlaceOrder(t *testing.T) {
	placed := &order.Order{ID: "o-1", OrderNumber: "ORD-1001", Status: order.StatusPending}

	t.Run("created", func(t *testing.T) {
		m := &mockCheckout{order: placed}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		var o order.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
		assert.Equal(t, "ORD-1001", o.OrderNumber)
	})

	t.Run("replayed", func(t *testing.T) {
		m := &mockCheckout{order: placed}
		h := newRouter(m, idempotency.NewMemoryLedger(time.Hour))
		hdr := map[string]string{"Idempotency-Key": "k-1"}

		first := do(t, h, http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, hdr)
		second := do(t, h, http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, hdr)

		require.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, "true", second.Header().Get(idempotency.ReplayedHeader))
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, int32(1), m.orders.Load())
	})

	t.Run("failure is retryable", func(t *testing.T) {
		m := &mockCheckout{orderErr: &storeapi.APIError{Status: http.StatusConflict, Message: "Insufficient stock for Blue Shirt"}}
		h := newRouter(m, idempotency.NewMemoryLedger(time.Hour))
		hdr := map[string]string{"Idempotency-Key": "k-2"}

		w := do(t, h, http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, hdr)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, order.FriendlyMessage(m.orderErr), decodeError(t, w).Message)

		m.orderErr = nil
		m.order = placed
		w = do(t, h, http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, hdr)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, int32(2), m.orders.Load())
	})

	t.Run("online method", func(t *testing.T) {
		m := &mockCheckout{orderErr: order.ErrOnlineMethod}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"razorpay"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("busy", func(t *testing.T) {
		m := &mockCheckout{orderErr: checkout.ErrBusy}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/orders", `{"paymentMethod":"cod"}`, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPayments(t *testing.T) {
	t.Run("begin without body", func(t *testing.T) {
		m := &mockCheckout{options: &payment.WidgetOptions{Key: "rzp_test", Amount: 295000, Currency: "INR", OrderID: "order_1"}}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments", "", nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, payment.Mode(""), m.payReq.Mode)

		var opts payment.WidgetOptions
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opts))
		assert.Equal(t, "order_1", opts.OrderID)
		assert.Equal(t, int64(295000), opts.Amount)
	})

	t.Run("begin order mode", func(t *testing.T) {
		m := &mockCheckout{options: &payment.WidgetOptions{OrderID: "order_2"}}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments", `{"mode":"order","orderId":"o-9"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, payment.ModeOrder, m.payReq.Mode)
		assert.Equal(t, "o-9", m.payReq.OrderID)
	})

	t.Run("begin order mode without id", func(t *testing.T) {
		m := &mockCheckout{}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments", `{"mode":"order"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Fields, "orderId")
	})

	t.Run("begin unknown mode", func(t *testing.T) {
		m := &mockCheckout{}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments", `{"mode":"upi"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("in progress", func(t *testing.T) {
		m := &mockCheckout{payErr: checkout.ErrPaymentInProgress}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments", "", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "A payment is already in progress.", decodeError(t, w).Message)
	})

	t.Run("verify", func(t *testing.T) {
		m := &mockCheckout{result: payment.Result{Status: payment.StatusSuccess, OrderID: "o-1", PaymentID: "pay_1"}}
		body := `{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments/verify", body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "sig", m.verify.Signature)

		var res payment.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, payment.StatusSuccess, res.Status)
		assert.Equal(t, "o-1", res.OrderID)
	})

	t.Run("verify missing signature", func(t *testing.T) {
		m := &mockCheckout{}
		body := `{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1"}`
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments/verify", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Fields, "razorpay_signature")
	})

	t.Run("verify replayed payment", func(t *testing.T) {
		m := &mockCheckout{payErr: payment.ErrPaymentReplayed}
		body := `{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments/verify", body, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("dismiss", func(t *testing.T) {
		m := &mockCheckout{result: payment.Result{Status: payment.StatusFailed, Message: "Payment cancelled"}}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments/dismiss", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"failed"`)
	})

	t.Run("dismiss without payment", func(t *testing.T) {
		m := &mockCheckout{payErr: checkout.ErrNoPayment}
		w := do(t, newRouter(m, nil), http.MethodPost, "/api/checkout/sessions/chk-1/payments/dismiss", "", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSubmissionKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions/chk-1/orders", nil)
	assert.Empty(t, submissionKey(req))

	req.Header.Set("Idempotency-Key", "k")
	req = req.WithContext(context.WithValue(req.Context(), ownerKey{}, "owner"))
	assert.Equal(t, "owner:/api/checkout/sessions/chk-1/orders:k", submissionKey(req))
}
