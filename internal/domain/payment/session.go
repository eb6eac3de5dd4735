package payment

import (
	"context"
	"slices"
	"sync"
)

// Result is the single outcome of a session.
type Result struct {
	Status         Status `json:"status"`
	GatewayOrderID string `json:"gatewayOrderId,omitempty"`
	PaymentID      string `json:"paymentId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Session is one in-memory payment attempt. It resolves exactly once; every
// waiter observes the same Result.
type Session struct {
	id         string
	checkoutID string
	mode       Mode
	orderID    string
	cart       CartCheckout

	mu     sync.Mutex
	status Status
	order  *GatewayOrder
	result Result
	done   chan struct{}
}

// NewSession creates an idle session. orderID is required for ModeOrder.
func NewSession(id, checkoutID string, mode Mode, orderID string, c CartCheckout) *Session {
	return &Session{
		id:         id,
		checkoutID: checkoutID,
		mode:       mode,
		orderID:    orderID,
		cart:       c,
		status:     StatusIdle,
		done:       make(chan struct{}),
	}
}

// ID returns the attempt identifier.
func (s *Session) ID() string { return s.id }

// Mode returns how the gateway order is minted.
func (s *Session) Mode() Mode { return s.mode }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// GatewayOrder returns the minted gateway order, or nil.
func (s *Session) GatewayOrder() *GatewayOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// Done is closed once the session resolves.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the outcome and whether the session has resolved.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.status.IsTerminal()
}

// Wait blocks until the session resolves or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		r, _ := s.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.CanTransitionTo(to) {
		return &IllegalTransitionError{From: s.status, To: to}
	}
	s.status = to
	return nil
}

func (s *Session) setOrder(o *GatewayOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = o
}

// resolve moves the session to a terminal status. Only the first call wins;
// it reports whether this call resolved the session. When from is given the
// session must currently be in one of those states.
func (s *Session) resolve(to Status, r Result, from ...Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.IsTerminal() || !s.status.CanTransitionTo(to) {
		return false
	}
	if len(from) > 0 && !slices.Contains(from, s.status) {
		return false
	}
	s.status = to
	r.Status = to
	if s.order != nil {
		r.GatewayOrderID = s.order.ID
	}
	s.result = r
	close(s.done)
	return true
}
