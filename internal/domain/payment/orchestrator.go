package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	msgVerifyFailed = "Payment verification failed"
	msgCancelled    = "Payment cancelled"
	msgStartFailed  = "Could not start the payment. Please try again."
	msgWidgetFailed = "The payment window could not be opened. Please try again."
)

// PublicError is an error whose message came from the store and may be
// shown to the user as is.
type PublicError interface {
	error
	PublicMessage() string
}

// userMessage returns the store's message carried by err, or fallback.
func userMessage(err error, fallback string) string {
	var pe PublicError
	if errors.As(err, &pe) {
		if msg := pe.PublicMessage(); msg != "" {
			return msg
		}
	}
	return fallback
}

// Config holds the merchant details shown in the payment widget.
type Config struct {
	Key         string
	Name        string
	Description string
	ThemeColor  string
}

// Prefill is customer data passed to the widget.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Theme styles the widget.
type Theme struct {
	Color string `json:"color,omitempty"`
}

// WidgetOptions is everything the gateway widget needs to open.
type WidgetOptions struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
}

// Callbacks are invoked by the widget. Exactly one of them fires.
type Callbacks struct {
	OnSuccess func(v Verification)
	OnDismiss func()
}

// Widget is the third-party payment UI.
type Widget interface {
	Open(ctx context.Context, opts WidgetOptions, cb Callbacks) error
}

// Orchestrator drives sessions through the gateway. It never retries.
type Orchestrator struct {
	gateway  Gateway
	attempts AttemptStore
	guard    *ReplayGuard
	cfg      Config
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. attempts and guard may be nil.
func NewOrchestrator(gateway Gateway, attempts AttemptStore, guard *ReplayGuard, cfg Config) *Orchestrator {
	return &Orchestrator{
		gateway:  gateway,
		attempts: attempts,
		guard:    guard,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Begin mints a gateway order for s and returns the widget options.
// A gateway failure resolves the session as failed.
func (o *Orchestrator) Begin(ctx context.Context, s *Session, prefill Prefill) (*WidgetOptions, error) {
	if err := s.transition(StatusCreatingOrder); err != nil {
		return nil, err
	}

	var (
		g   *GatewayOrder
		err error
	)
	switch s.mode {
	case ModeOrder:
		g, err = o.gateway.CreateOrderForOrder(ctx, s.orderID)
	default:
		g, err = o.gateway.CreateOrderFromCart(ctx, s.cart)
	}
	if err == nil && (g == nil || g.ID == "") {
		err = errors.New("gateway order has no id")
	}
	if err != nil {
		o.fail(ctx, s, "", userMessage(err, msgStartFailed))
		return nil, errors.Wrap(err, "create gateway order")
	}

	s.setOrder(g)
	if err := s.transition(StatusPending); err != nil {
		return nil, err
	}
	o.record(ctx, s, g)

	key := g.KeyID
	if key == "" {
		key = o.cfg.Key
	}
	return &WidgetOptions{
		Key:         key,
		Amount:      g.Amount,
		Currency:    g.Currency,
		Name:        o.cfg.Name,
		Description: o.cfg.Description,
		OrderID:     g.ID,
		Prefill:     prefill,
		Theme:       Theme{Color: o.cfg.ThemeColor},
	}, nil
}

// Complete verifies the widget's success callback with the store. Business
// failures resolve the session as failed and are reported in the Result;
// the error is non-nil only when s cannot accept a verification.
func (o *Orchestrator) Complete(ctx context.Context, s *Session, v Verification) (Result, error) {
	if err := s.transition(StatusVerifying); err != nil {
		return Result{}, err
	}

	g := s.GatewayOrder()
	if v.OrderID != g.ID {
		return o.fail(ctx, s, v.PaymentID, ErrOrderMismatch.Error()), nil
	}

	if o.guard != nil {
		seen, err := o.guard.Seen(ctx, v.PaymentID)
		if err != nil {
			zctx.From(ctx).Error("Replay check failed", zap.Error(err))
			return o.fail(ctx, s, v.PaymentID, msgVerifyFailed), nil
		}
		if seen {
			return o.fail(ctx, s, v.PaymentID, ErrPaymentReplayed.Error()), nil
		}
	}

	var (
		res *VerifyResult
		err error
	)
	switch s.mode {
	case ModeOrder:
		res, err = o.gateway.Verify(ctx, v, s.orderID)
	default:
		res, err = o.gateway.VerifyAndCreate(ctx, v, s.cart)
	}
	if err != nil {
		zctx.From(ctx).Warn("Verify payment", zap.String("attempt_id", s.id), zap.Error(err))
		return o.fail(ctx, s, v.PaymentID, userMessage(err, msgVerifyFailed)), nil
	}
	if res == nil || !res.OK() {
		msg := msgVerifyFailed
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return o.fail(ctx, s, v.PaymentID, msg), nil
	}

	orderID := res.OrderID
	if orderID == "" {
		orderID = s.orderID
	}
	return o.succeed(ctx, s, v.PaymentID, orderID), nil
}

// Dismiss handles the widget being closed without paying. It resolves a
// pending session as failed; any other session keeps its outcome.
func (o *Orchestrator) Dismiss(ctx context.Context, s *Session) Result {
	if s.resolve(StatusFailed, Result{Message: msgCancelled}, StatusPending) {
		o.update(ctx, s, StatusFailed, "", msgCancelled)
	}
	r, _ := s.Result()
	return r
}

// Pay runs the whole lifecycle against w and returns the single outcome.
// Verification continues even if ctx is cancelled after the widget reported
// success.
func (o *Orchestrator) Pay(ctx context.Context, s *Session, prefill Prefill, w Widget) (Result, error) {
	opts, err := o.Begin(ctx, s, prefill)
	if err != nil {
		if r, ok := s.Result(); ok {
			return r, nil
		}
		return Result{}, err
	}

	detached := context.WithoutCancel(ctx)
	cb := Callbacks{
		OnSuccess: func(v Verification) {
			if _, err := o.Complete(detached, s, v); err != nil {
				zctx.From(detached).Warn("Ignoring payment callback", zap.Error(err))
			}
		},
		OnDismiss: func() {
			o.Dismiss(detached, s)
		},
	}
	if err := w.Open(ctx, *opts, cb); err != nil {
		zctx.From(ctx).Warn("Open payment widget", zap.String("attempt_id", s.id), zap.Error(err))
		return o.fail(ctx, s, "", msgWidgetFailed), nil
	}

	r, err := s.Wait(ctx)
	if err == nil {
		return r, nil
	}

	// Abandoned while the widget was open counts as a dismissal.
	r = o.Dismiss(detached, s)
	if _, resolved := s.Result(); resolved {
		return r, nil
	}
	return Result{}, err
}

func (o *Orchestrator) fail(ctx context.Context, s *Session, paymentID, msg string) Result {
	if s.resolve(StatusFailed, Result{PaymentID: paymentID, Message: msg}) {
		o.update(ctx, s, StatusFailed, paymentID, msg)
	}
	r, _ := s.Result()
	return r
}

func (o *Orchestrator) succeed(ctx context.Context, s *Session, paymentID, orderID string) Result {
	if s.resolve(StatusSuccess, Result{PaymentID: paymentID, OrderID: orderID}) {
		if o.guard != nil {
			o.guard.Add(paymentID)
		}
		o.update(ctx, s, StatusSuccess, paymentID, "")
	}
	r, _ := s.Result()
	return r
}

func (o *Orchestrator) record(ctx context.Context, s *Session, g *GatewayOrder) {
	if o.attempts == nil {
		return
	}
	now := o.now()
	err := o.attempts.Record(ctx, Attempt{
		ID:             s.id,
		CheckoutID:     s.checkoutID,
		Mode:           s.mode,
		GatewayOrderID: g.ID,
		OrderID:        s.orderID,
		Amount:         g.Amount,
		Currency:       g.Currency,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		zctx.From(ctx).Error("Record payment attempt",
			zap.String("attempt_id", s.id),
			zap.String("gateway_order_id", g.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) update(ctx context.Context, s *Session, status Status, paymentID, msg string) {
	if o.attempts == nil || s.GatewayOrder() == nil {
		return
	}
	if err := o.attempts.UpdateStatus(ctx, s.id, status, paymentID, msg); err != nil {
		zctx.From(ctx).Error("Update payment attempt",
			zap.String("attempt_id", s.id),
			zap.Stringer("status", status),
			zap.Error(err),
		)
	}
}
