// Package handler exposes checkout sessions over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/idempotency"
	"github.com/xenking/storefront-checkout/internal/validation"
)

// maxBody bounds request payloads.
const maxBody = 64 << 10

// Checkout is the session API served by Handler.
type Checkout interface {
	Start(ctx context.Context, owner string) (*checkout.View, error)
	View(ctx context.Context, id, owner string) (*checkout.View, error)
	ApplyCoupon(ctx context.Context, id, owner, code string) (*checkout.View, error)
	RemoveCoupon(ctx context.Context, id, owner string) (*checkout.View, error)
	SelectAddress(ctx context.Context, id, owner, addressID string) (*checkout.View, error)
	CreateAddress(ctx context.Context, id, owner string, d address.Draft) (*checkout.View, error)
	CheckDelivery(pincode string) (bool, error)
	PlaceOrder(ctx context.Context, id, owner, method string) (*order.Order, error)
	BeginPayment(ctx context.Context, id, owner string, req checkout.PaymentRequest) (*payment.WidgetOptions, error)
	VerifyPayment(ctx context.Context, id, owner string, v payment.Verification) (payment.Result, error)
	DismissPayment(ctx context.Context, id, owner string) (payment.Result, error)
}

var _ Checkout = (*checkout.Service)(nil)

// Handler serves the checkout API.
type Handler struct {
	checkout Checkout
	auth     *Authenticator
	ledger   idempotency.Ledger
	validate *validatorv10.Validate
}

// NewHandler creates a Handler. ledger may be nil to disable replay
// protection.
func NewHandler(c Checkout, auth *Authenticator, ledger idempotency.Ledger) *Handler {
	return &Handler{
		checkout: c,
		auth:     auth,
		ledger:   ledger,
		validate: validation.New(),
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/checkout", func(r chi.Router) {
		r.Get("/pincode/{pincode}", h.checkPincode)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Post("/sessions", h.startSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Post("/coupon", h.applyCoupon)
				r.Delete("/coupon", h.removeCoupon)
				r.Put("/address", h.selectAddress)
				r.Post("/addresses", h.createAddress)
				r.Post("/payments", h.beginPayment)
				r.Post("/payments/dismiss", h.dismissPayment)

				// Submissions that reach the store replay instead of repeating.
				r.Group(func(r chi.Router) {
					if h.ledger != nil {
						r.Use(idempotency.Middleware(h.ledger, submissionKey))
					}
					r.Post("/orders", h.placeOrder)
					r.Post("/payments/verify", h.verifyPayment)
				})
			})
		})
	})
}

// submissionKey scopes the client's Idempotency-Key to the caller and the
// route, which includes the session ID.
func submissionKey(r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return ""
	}
	return OwnerFrom(r.Context()) + ":" + r.URL.Path + ":" + key
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := h.decodeRaw(r, v); err != nil {
		return err
	}
	return validation.Struct(h.validate, v)
}

// decodeOptional is decode for endpoints whose body may be omitted.
func (h *Handler) decodeOptional(r *http.Request, v any) error {
	if err := h.decodeRaw(r, v); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return validation.Struct(h.validate, v)
}

var errEmptyBody = &badRequestError{msg: "Request body is required"}

func (h *Handler) decodeRaw(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return &badRequestError{msg: "Malformed JSON body"}
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		zctx.From(ctx).Error("Encode response", zap.Error(err))
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
