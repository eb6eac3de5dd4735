// Package checkout runs the checkout flow for a storefront user: cart
// validation, address resolution, coupon pricing, then order submission or
// gateway payment.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/idempotency"
)

var (
	ErrBusy              = errors.New("another checkout request is in progress")
	ErrPaymentInProgress = errors.New("payment already in progress")
	ErrNoPayment         = errors.New("no payment in progress")
	ErrOrderIDRequired   = errors.New("order id required")
	ErrUnknownMode       = errors.New("unknown payment mode")
)

// View is what the checkout page renders.
type View struct {
	SessionID       string            `json:"sessionId"`
	Items           []cart.Line       `json:"items"`
	Pricing         pricing.Breakdown `json:"pricing"`
	Coupon          *coupon.Coupon    `json:"coupon,omitempty"`
	CouponMessage   string            `json:"couponMessage,omitempty"`
	Addresses       []address.Address `json:"addresses"`
	Address         *address.Address  `json:"address,omitempty"`
	AddressRequired bool              `json:"addressRequired"`
	CanPay          bool              `json:"canPay"`
	PaymentStatus   payment.Status    `json:"paymentStatus,omitempty"`
}

// PaymentRequest starts a gateway payment.
type PaymentRequest struct {
	Mode    payment.Mode
	OrderID string
	Prefill payment.Prefill
}

// Deps are the collaborators of Service.
type Deps struct {
	Cart      *cart.Validator
	Coupons   *coupon.Resolver
	Addresses *address.Resolver
	Pricing   *pricing.Calculator
	Orders    *order.Submitter
	Payments  *payment.Orchestrator
	Sessions  *Registry
	Events    events.Publisher
	Meter     metric.Meter
}

// Service runs checkout sessions.
type Service struct {
	cart      *cart.Validator
	coupons   *coupon.Resolver
	addresses *address.Resolver
	pricing   *pricing.Calculator
	orders    *order.Submitter
	payments  *payment.Orchestrator
	sessions  *Registry
	events    events.Publisher

	orderCount   metric.Int64Counter
	paymentCount metric.Int64Counter
	now          func() time.Time
}

// NewService creates a Service.
func NewService(d Deps) (*Service, error) {
	meter := d.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("checkout")
	}
	orderCount, err := meter.Int64Counter("checkout.orders",
		metric.WithDescription("Orders submitted without the payment gateway"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	paymentCount, err := meter.Int64Counter("checkout.payments",
		metric.WithDescription("Resolved gateway payments"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payments counter")
	}

	return &Service{
		cart:         d.Cart,
		coupons:      d.Coupons,
		addresses:    d.Addresses,
		pricing:      d.Pricing,
		orders:       d.Orders,
		payments:     d.Payments,
		sessions:     d.Sessions,
		events:       d.Events,
		orderCount:   orderCount,
		paymentCount: paymentCount,
		now:          time.Now,
	}, nil
}

// Start opens a checkout session for owner. The cart must be non-empty and
// fully available.
func (s *Service) Start(ctx context.Context, owner string) (*View, error) {
	lines, err := s.cart.LoadValidated(ctx)
	if err != nil {
		return nil, err
	}
	addrs, err := s.addresses.List(ctx)
	if err != nil {
		return nil, err
	}

	sess := s.sessions.Create(owner)
	zctx.From(ctx).Info("Checkout started",
		zap.String("checkout_id", sess.ID),
		zap.Int("lines", len(lines)),
	)
	return s.render(sess, lines, addrs), nil
}

// View renders the session against the current cart and address book.
func (s *Service) View(ctx context.Context, id, owner string) (*View, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// ApplyCoupon validates code against the current subtotal and makes it the
// session's only coupon. On failure the previous coupon stays applied.
func (s *Service) ApplyCoupon(ctx context.Context, id, owner, code string) (*View, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	lines, err := s.cart.Load(ctx)
	if err != nil {
		return nil, err
	}

	ticket := sess.coupons.Begin()
	c, err := s.coupons.Validate(ctx, code, pricing.Subtotal(lines))
	if err != nil {
		return nil, err
	}
	if !sess.coupons.Commit(ticket, c) {
		zctx.From(ctx).Debug("Coupon apply superseded", zap.String("code", c.Code))
	}
	return s.view(ctx, sess)
}

// RemoveCoupon drops the applied coupon. No request reaches the store.
func (s *Service) RemoveCoupon(ctx context.Context, id, owner string) (*View, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	sess.coupons.Remove()
	return s.view(ctx, sess)
}

// SelectAddress makes addressID the shipping address.
func (s *Service) SelectAddress(ctx context.Context, id, owner, addressID string) (*View, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	a, err := s.addresses.Resolve(ctx, addressID)
	if err != nil {
		return nil, err
	}
	sess.setAddressID(a.ID)
	return s.view(ctx, sess)
}

// CreateAddress saves d and selects it.
func (s *Service) CreateAddress(ctx context.Context, id, owner string, d address.Draft) (*View, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	a, err := s.addresses.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	sess.setAddressID(a.ID)
	return s.view(ctx, sess)
}

// CheckDelivery reports whether pincode is serviceable.
func (s *Service) CheckDelivery(pincode string) (bool, error) {
	return s.addresses.CheckDelivery(pincode)
}

// PlaceOrder submits an order settled outside the gateway, such as cash on
// delivery. The cart is re-validated first. The session ends on success.
func (s *Service) PlaceOrder(ctx context.Context, id, owner, method string) (*order.Order, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	if !sess.flow.TryLock() {
		return nil, ErrBusy
	}
	defer sess.flow.Unlock()

	if sess.paymentInFlight() {
		return nil, ErrPaymentInProgress
	}
	if order.ParseMethod(method).Online() {
		return nil, order.ErrOnlineMethod
	}

	lines, err := s.cart.LoadValidated(ctx)
	if err != nil {
		return nil, err
	}
	addr, err := s.shippingAddress(ctx, sess)
	if err != nil {
		return nil, err
	}

	ctx = idempotency.WithKey(ctx, sess.ID)
	o, err := s.orders.Submit(ctx, order.Submission{
		AddressID:     addr.ID,
		PaymentMethod: method,
		Lines:         lines,
		CouponCode:    s.couponCode(ctx, sess, lines),
	})
	if err != nil {
		s.orderCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		return nil, err
	}
	s.orderCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "placed")))

	e := events.New(events.OrderPlaced)
	e.CheckoutID = sess.ID
	e.OrderID = o.ID
	e.Amount = o.TotalAmount
	s.publish(ctx, e)

	s.sessions.Delete(sess.ID)
	zctx.From(ctx).Info("Order placed",
		zap.String("checkout_id", sess.ID),
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
	)
	return o, nil
}

// BeginPayment creates a gateway order and returns the widget options. A
// session runs one attempt at a time; a failed attempt may be followed by
// a new one.
func (s *Service) BeginPayment(ctx context.Context, id, owner string, req PaymentRequest) (*payment.WidgetOptions, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	if !sess.flow.TryLock() {
		return nil, ErrBusy
	}
	defer sess.flow.Unlock()

	if sess.paymentInFlight() {
		return nil, ErrPaymentInProgress
	}

	mode := req.Mode
	if mode == "" {
		mode = payment.ModeCart
	}

	switch mode {
	case payment.ModeCart:
	case payment.ModeOrder:
		if req.OrderID == "" {
			return nil, ErrOrderIDRequired
		}
	default:
		return nil, ErrUnknownMode
	}

	// Both paths charge for the cart as it stands now.
	lines, err := s.cart.LoadValidated(ctx)
	if err != nil {
		return nil, err
	}

	var (
		checkout payment.CartCheckout
		addr     *address.Address
	)
	if mode == payment.ModeCart {
		addr, err = s.shippingAddress(ctx, sess)
		if err != nil {
			return nil, err
		}
		checkout = payment.CartCheckout{
			ShippingAddressID: addr.ID,
			Items:             cart.Items(lines),
			CouponCode:        s.couponCode(ctx, sess, lines),
		}
	}

	ps := payment.NewSession(uuid.NewString(), sess.ID, mode, req.OrderID, checkout)
	sess.setPayment(ps)

	prefill := req.Prefill
	if addr != nil {
		if prefill.Name == "" {
			prefill.Name = strings.TrimSpace(addr.FirstName + " " + addr.LastName)
		}
		if prefill.Contact == "" {
			prefill.Contact = addr.Phone
		}
	}

	opts, err := s.payments.Begin(idempotency.WithKey(ctx, ps.ID()), ps, prefill)
	if err != nil {
		s.resolved(ctx, sess, ps)
		return nil, err
	}
	zctx.From(ctx).Info("Payment started",
		zap.String("checkout_id", sess.ID),
		zap.String("attempt_id", ps.ID()),
		zap.String("gateway_order_id", opts.OrderID),
	)
	return opts, nil
}

// VerifyPayment completes the current attempt with the widget's success
// payload. Business failures are reported in the Result.
func (s *Service) VerifyPayment(ctx context.Context, id, owner string, v payment.Verification) (payment.Result, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return payment.Result{}, err
	}
	ps := sess.Payment()
	if ps == nil {
		return payment.Result{}, ErrNoPayment
	}

	r, err := s.payments.Complete(idempotency.WithKey(ctx, ps.ID()), ps, v)
	if err != nil {
		return payment.Result{}, err
	}
	s.resolved(ctx, sess, ps)
	return r, nil
}

// DismissPayment handles the widget being closed without paying.
func (s *Service) DismissPayment(ctx context.Context, id, owner string) (payment.Result, error) {
	sess, err := s.sessions.Get(id, owner)
	if err != nil {
		return payment.Result{}, err
	}
	ps := sess.Payment()
	if ps == nil {
		return payment.Result{}, ErrNoPayment
	}

	before := ps.Status()
	r := s.payments.Dismiss(ctx, ps)
	if before == payment.StatusPending && r.Status == payment.StatusFailed {
		s.resolved(ctx, sess, ps)
	}
	return r, nil
}

// resolved records the outcome of a finished attempt.
func (s *Service) resolved(ctx context.Context, sess *Session, ps *payment.Session) {
	r, ok := ps.Result()
	if !ok {
		return
	}
	s.paymentCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", r.Status.String())))

	var e events.Event
	switch r.Status {
	case payment.StatusSuccess:
		e = events.New(events.PaymentSucceeded)
	default:
		e = events.New(events.PaymentFailed)
		e.Message = r.Message
	}
	e.CheckoutID = sess.ID
	e.AttemptID = ps.ID()
	e.OrderID = r.OrderID
	e.GatewayOrderID = r.GatewayOrderID
	e.PaymentID = r.PaymentID
	if g := ps.GatewayOrder(); g != nil {
		e.Amount = g.MajorAmount()
	}
	s.publish(ctx, e)

	if r.Status != payment.StatusSuccess {
		zctx.From(ctx).Info("Payment failed",
			zap.String("checkout_id", sess.ID),
			zap.String("attempt_id", ps.ID()),
			zap.String("message", r.Message),
		)
		return
	}
	s.orders.ClearCart(ctx)
	s.sessions.Delete(sess.ID)
	zctx.From(ctx).Info("Payment succeeded",
		zap.String("checkout_id", sess.ID),
		zap.String("attempt_id", ps.ID()),
		zap.String("order_id", r.OrderID),
	)
}

func (s *Service) view(ctx context.Context, sess *Session) (*View, error) {
	var (
		lines []cart.Line
		addrs []address.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = s.cart.Load(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		addrs, err = s.addresses.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.render(sess, lines, addrs), nil
}

func (s *Service) render(sess *Session, lines []cart.Line, addrs []address.Address) *View {
	v := &View{
		SessionID: sess.ID,
		Items:     lines,
		Addresses: addrs,
	}
	if v.Addresses == nil {
		v.Addresses = []address.Address{}
	}

	if a, err := sess.pickAddress(addrs); err == nil {
		v.Address = a
	}
	v.AddressRequired = len(addrs) == 0

	applied := sess.coupons.Applied()
	if applied != nil {
		v.Coupon = applied
		if err := applied.Check(pricing.Subtotal(lines), s.now()); err != nil {
			v.CouponMessage = err.Error()
			applied = nil
		}
	}
	v.Pricing = s.pricing.Calculate(lines, applied)

	if p := sess.Payment(); p != nil {
		v.PaymentStatus = p.Status()
	}
	v.CanPay = len(lines) > 0 && v.Address != nil && !sess.paymentInFlight()
	return v
}

// shippingAddress resolves the address an order ships to, with the same
// fallback the view shows.
func (s *Service) shippingAddress(ctx context.Context, sess *Session) (*address.Address, error) {
	addrs, err := s.addresses.List(ctx)
	if err != nil {
		return nil, err
	}
	return sess.pickAddress(addrs)
}

// couponCode is the code to submit with lines. A coupon that no longer
// qualifies is left out, as it is left out of the displayed pricing.
func (s *Service) couponCode(ctx context.Context, sess *Session, lines []cart.Line) string {
	c := sess.coupons.Applied()
	if c == nil {
		return ""
	}
	if err := c.Check(pricing.Subtotal(lines), s.now()); err != nil {
		zctx.From(ctx).Debug("Coupon not submitted",
			zap.String("checkout_id", sess.ID),
			zap.String("code", c.Code),
			zap.Error(err),
		)
		return ""
	}
	return c.Code
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		zctx.From(ctx).Warn("Publish checkout event",
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}
