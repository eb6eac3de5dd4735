package handler

import (
	"context"
	"maps"
	"net/http"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/storeapi"
	"github.com/xenking/storefront-checkout/internal/validation"
)

const msgInternal = "Something went wrong. Please try again."

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// apiError is a rendered error response.
type apiError struct {
	Code    int
	Message string
	Fields  map[string]string
}

var sentinels = []struct {
	err  error
	code int
	msg  string
}{
	{checkout.ErrSessionNotFound, http.StatusNotFound, "Checkout session not found. Please start again."},
	{checkout.ErrBusy, http.StatusConflict, "Your previous request is still being processed."},
	{checkout.ErrPaymentInProgress, http.StatusConflict, "A payment is already in progress."},
	{checkout.ErrNoPayment, http.StatusConflict, "No payment is in progress."},
	{checkout.ErrOrderIDRequired, http.StatusBadRequest, "orderId is required for order payments."},
	{checkout.ErrUnknownMode, http.StatusBadRequest, "Unknown payment mode."},
	{cart.ErrEmptyCart, http.StatusUnprocessableEntity, "Your cart is empty."},
	{address.ErrAddressRequired, http.StatusUnprocessableEntity, "Please add a shipping address."},
	{address.ErrNotFound, http.StatusUnprocessableEntity, "The selected address no longer exists."},
	{address.ErrInvalidPincode, http.StatusBadRequest, "Please enter a valid 6 digit pincode."},
	{coupon.ErrInvalidCoupon, http.StatusUnprocessableEntity, "Invalid coupon code."},
	{coupon.ErrCouponExpired, http.StatusUnprocessableEntity, "This coupon has expired."},
	{coupon.ErrCouponInactive, http.StatusUnprocessableEntity, "This coupon is no longer active."},
	{order.ErrOnlineMethod, http.StatusUnprocessableEntity, "Online payments must be completed through the payment gateway."},
	{order.ErrMissingMethod, http.StatusBadRequest, "Please choose a payment method."},
	{payment.ErrOrderMismatch, http.StatusUnprocessableEntity, "Payment does not match this checkout."},
	{payment.ErrPaymentReplayed, http.StatusConflict, "This payment has already been used."},
	{storeapi.ErrUnavailable, http.StatusServiceUnavailable, storeapi.ErrUnavailable.Error()},
}

// classify maps err to a response. Store messages are surfaced verbatim.
func classify(err error) (apiError, bool) {
	var (
		bad    *badRequestError
		verr   *validation.Error
		unav   *cart.UnavailableError
		qty    *cart.InvalidQuantityError
		minOrd *coupon.MinOrderError
		ptrans *payment.IllegalTransitionError
		store  *storeapi.APIError
	)
	switch {
	case errors.As(err, &bad):
		return apiError{Code: http.StatusBadRequest, Message: bad.msg}, true
	case errors.As(err, &verr):
		return apiError{Code: http.StatusBadRequest, Message: "Please fix the highlighted fields.", Fields: verr.Fields}, true
	case errors.As(err, &unav):
		return apiError{Code: http.StatusUnprocessableEntity, Message: unav.Error()}, true
	case errors.As(err, &qty):
		return apiError{Code: http.StatusUnprocessableEntity, Message: qty.Error()}, true
	case errors.As(err, &minOrd):
		return apiError{Code: http.StatusUnprocessableEntity, Message: minOrd.Error()}, true
	case errors.As(err, &ptrans):
		return apiError{Code: http.StatusConflict, Message: "This payment can no longer be changed."}, true
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return apiError{Code: s.code, Message: s.msg}, true
		}
	}

	if errors.As(err, &store) {
		code := store.Status
		if code < 400 || code >= 500 {
			code = http.StatusBadGateway
		}
		return apiError{Code: code, Message: order.FriendlyMessage(store)}, true
	}
	return apiError{Code: http.StatusInternalServerError, Message: msgInternal}, false
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	e, known := classify(err)
	lg := zctx.From(ctx)
	switch {
	case !known:
		lg.Error("Request failed", zap.Error(err))
	case e.Code >= http.StatusInternalServerError:
		lg.Warn("Request failed", zap.Int("status", e.Code), zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Int("status", e.Code), zap.Error(err))
	}
	writeAPIError(w, e)
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Code)
	enc.FieldStart("message")
	enc.Str(e.Message)
	if len(e.Fields) > 0 {
		enc.FieldStart("fields")
		enc.ObjStart()
		for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
			enc.FieldStart(k)
			enc.Str(e.Fields[k])
		}
		enc.ObjEnd()
	}
	enc.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_, _ = w.Write(enc.Bytes())
}
