package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

type placeOrderRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,max=32"`
}

type beginPaymentRequest struct {
	Mode    payment.Mode    `json:"mode" validate:"omitempty,oneof=cart order"`
	OrderID string          `json:"orderId" validate:"required_if=Mode order"`
	Prefill payment.Prefill `json:"prefill"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req placeOrderRequest
	if err := h.decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.checkout.PlaceOrder(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), req.PaymentMethod)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, o)
}

// beginPayment mints a gateway order and returns the widget options. The
// client opens the widget and reports back via verify or dismiss.
func (h *Handler) beginPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req beginPaymentRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	opts, err := h.checkout.BeginPayment(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), checkout.PaymentRequest{
		Mode:    req.Mode,
		OrderID: req.OrderID,
		Prefill: req.Prefill,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, opts)
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var v payment.Verification
	if err := h.decode(r, &v); err != nil {
		writeError(ctx, w, err)
		return
	}
	res, err := h.checkout.VerifyPayment(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), v)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

func (h *Handler) dismissPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.checkout.DismissPayment(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}
