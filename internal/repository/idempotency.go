package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/idempotency"
)

const (
	// claimKeySQL inserts a fresh key or takes over a failed or expired one.
	// No row comes back when a live entry already holds the key.
	claimKeySQL = `INSERT INTO idempotency_keys (key, status, created_at, updated_at, expires_at)
		VALUES ($1, 'IN_PROGRESS', $2, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET status = 'IN_PROGRESS', response_status = 0, response_body = NULL, note = '',
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.status = 'FAILED' OR idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING key`

	getKeySQL = `SELECT key, status, response_status, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys WHERE key = $1`

	completeKeySQL = `UPDATE idempotency_keys
		SET status = 'DONE', response_status = $2, response_body = $3, updated_at = $4
		WHERE key = $1`

	releaseKeySQL = `UPDATE idempotency_keys
		SET status = 'FAILED', note = $2, updated_at = $3
		WHERE key = $1`

	purgeKeysSQL = `DELETE FROM idempotency_keys WHERE expires_at < $1`
)

var _ idempotency.Ledger = (*IdempotencyRepository)(nil)

// IdempotencyRepository is the PostgreSQL idempotency ledger.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewIdempotencyRepository returns a ledger whose entries live for ttl.
func NewIdempotencyRepository(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool, ttl: ttl, now: time.Now}
}

func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (*idempotency.Record, error) {
	now := r.now().UTC()

	var claimed string
	err := r.pool.QueryRow(ctx, claimKeySQL, key, now, now.Add(r.ttl)).Scan(&claimed)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claiming key %q: %w", key, err)
	}

	rows, err := r.pool.Query(ctx, getKeySQL, key)
	if err != nil {
		return nil, fmt.Errorf("getting key %q: %w", key, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("getting key %q: %w", key, err)
	}
	return &rec, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key string, status int, body []byte) error {
	tag, err := r.pool.Exec(ctx, completeKeySQL, key, status, body, r.now().UTC())
	if err != nil {
		return fmt.Errorf("completing key %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrUnknownKey
	}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key, note string) error {
	tag, err := r.pool.Exec(ctx, releaseKeySQL, key, note, r.now().UTC())
	if err != nil {
		return fmt.Errorf("releasing key %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrUnknownKey
	}
	return nil
}

// Purge deletes entries that expired before now and returns how many.
func (r *IdempotencyRepository) Purge(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeKeysSQL, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purging keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.CollectableRow) (idempotency.Record, error) {
	var (
		rec    idempotency.Record
		status string
		code   int32
	)
	err := row.Scan(&rec.Key, &status, &code, &rec.ResponseBody, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	rec.Status = idempotency.Status(status)
	rec.ResponseStatus = int(code)
	return rec, err
}
