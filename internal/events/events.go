// Package events publishes checkout outcomes for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type names an event.
type Type string

const (
	OrderPlaced      Type = "order.placed"
	PaymentSucceeded Type = "payment.succeeded"
	PaymentFailed    Type = "payment.failed"
	PaymentOrphaned  Type = "payment.orphaned"
)

// Event is a checkout outcome.
type Event struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	CheckoutID     string          `json:"checkoutId,omitempty"`
	AttemptID      string          `json:"attemptId,omitempty"`
	OrderID        string          `json:"orderId,omitempty"`
	GatewayOrderID string          `json:"gatewayOrderId,omitempty"`
	PaymentID      string          `json:"paymentId,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Message        string          `json:"message,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// New returns an event of type t with a fresh ID and timestamp.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events. Delivery is at most once.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to a logger. It is used when no queue is
// configured.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.lg.Info("Checkout event",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("checkout_id", e.CheckoutID),
		zap.String("order_id", e.OrderID),
		zap.String("payment_id", e.PaymentID),
		zap.Stringer("amount", e.Amount),
	)
	return nil
}
