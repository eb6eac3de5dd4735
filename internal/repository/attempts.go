package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const (
	insertAttemptSQL = `INSERT INTO payment_attempts
		(id, checkout_id, mode, gateway_order_id, order_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateAttemptStatusSQL = `UPDATE payment_attempts
		SET status = $2, payment_id = CASE WHEN $3 = '' THEN payment_id ELSE $3 END, message = $4, updated_at = NOW()
		WHERE id = $1`

	paymentUsedSQL = `SELECT EXISTS (
		SELECT 1 FROM payment_attempts WHERE payment_id = $1 AND status = 'success')`

	listStaleAttemptsSQL = `SELECT id, checkout_id, mode, gateway_order_id, order_id, amount, currency,
		status, payment_id, message, created_at, updated_at
		FROM payment_attempts
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`

	expireAttemptSQL = `UPDATE payment_attempts
		SET status = $2, message = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`

	verifiedPaymentIDsSQL = `SELECT payment_id FROM payment_attempts
		WHERE status = 'success' AND updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2`
)

var _ payment.AttemptStore = (*AttemptRepository)(nil)

// AttemptRepository is the durable log of gateway payment attempts.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository returns an AttemptRepository that uses the given pool.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Record inserts a new attempt.
func (r *AttemptRepository) Record(ctx context.Context, a payment.Attempt) error {
	_, err := r.pool.Exec(ctx, insertAttemptSQL,
		a.ID, a.CheckoutID, string(a.Mode), a.GatewayOrderID, a.OrderID,
		decimal.New(a.Amount, -2), a.Currency, string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %q: %w", a.ID, err)
	}
	return nil
}

// UpdateStatus moves an attempt to status. An empty paymentID keeps the
// stored one.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id string, status payment.Status, paymentID, message string) error {
	_, err := r.pool.Exec(ctx, updateAttemptStatusSQL, id, string(status), paymentID, message)
	if err != nil {
		return fmt.Errorf("updating attempt %q: %w", id, err)
	}
	return nil
}

// PaymentUsed reports whether paymentID completed an attempt.
func (r *AttemptRepository) PaymentUsed(ctx context.Context, paymentID string) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, paymentUsedSQL, paymentID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking payment %q: %w", paymentID, err)
	}
	return used, nil
}

// ListStale returns in-flight attempts not updated since before, oldest
// first.
func (r *AttemptRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]payment.Attempt, error) {
	rows, err := r.pool.Query(ctx, listStaleAttemptsSQL, inFlight(), before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale attempts: %w", err)
	}
	return pgx.CollectRows(rows, scanAttempt)
}

// Expire marks an attempt expired if it is still in flight. It reports
// whether the row changed, so concurrent reconcilers expire each attempt
// once.
func (r *AttemptRepository) Expire(ctx context.Context, id, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, expireAttemptSQL, id, string(payment.StatusExpired), message, inFlight())
	if err != nil {
		return false, fmt.Errorf("expiring attempt %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// VerifiedPaymentIDs returns up to limit payment IDs verified since since.
func (r *AttemptRepository) VerifiedPaymentIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, verifiedPaymentIDsSQL, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing verified payments: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func inFlight() []string {
	out := make([]string, len(payment.InFlight))
	for i, s := range payment.InFlight {
		out[i] = string(s)
	}
	return out
}

func scanAttempt(row pgx.CollectableRow) (payment.Attempt, error) {
	var (
		a      payment.Attempt
		mode   string
		status string
		amount decimal.Decimal
	)
	err := row.Scan(
		&a.ID, &a.CheckoutID, &mode, &a.GatewayOrderID, &a.OrderID, &amount, &a.Currency,
		&status, &a.PaymentID, &a.Message, &a.CreatedAt, &a.UpdatedAt,
	)
	a.Mode = payment.Mode(mode)
	a.Status = payment.Status(status)
	a.Amount = amount.Shift(2).IntPart()
	return a, err
}
