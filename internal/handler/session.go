package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront-checkout/internal/domain/address"
)

type couponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type selectAddressRequest struct {
	AddressID string `json:"addressId" validate:"required"`
}

type pincodeResponse struct {
	Pincode   string `json:"pincode"`
	Available bool   `json:"available"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.checkout.Start(ctx, OwnerFrom(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+v.SessionID)
	writeJSON(ctx, w, http.StatusCreated, v)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.checkout.View(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, v)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req couponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	v, err := h.checkout.ApplyCoupon(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), req.Code)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, v)
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.checkout.RemoveCoupon(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, v)
}

func (h *Handler) selectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectAddressRequest
	if err := h.decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	v, err := h.checkout.SelectAddress(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), req.AddressID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, v)
}

// createAddress leaves field validation to the address resolver, which
// trims input first.
func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var d address.Draft
	if err := h.decodeRaw(r, &d); err != nil {
		writeError(ctx, w, err)
		return
	}
	v, err := h.checkout.CreateAddress(ctx, chi.URLParam(r, "id"), OwnerFrom(ctx), d)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, v)
}

func (h *Handler) checkPincode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pincode := chi.URLParam(r, "pincode")
	ok, err := h.checkout.CheckDelivery(pincode)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, pincodeResponse{Pincode: pincode, Available: ok})
}
