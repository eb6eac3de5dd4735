// Package idempotency deduplicates side-effecting checkout requests.
//
// A request claims its key in a Ledger before running. A duplicate of a
// finished request replays the stored response; a duplicate of a running
// request is rejected with 409 Conflict.
package idempotency

import (
	"context"
	"time"
)

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Record is a ledger entry.
type Record struct {
	Key            string
	Status         Status
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Ledger persists idempotency keys.
//
// Claim creates an IN_PROGRESS entry for key. It returns (nil, nil) when the
// caller now owns the key and the existing entry otherwise. FAILED and
// expired entries can be claimed again.
type Ledger interface {
	Claim(ctx context.Context, key string) (*Record, error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	Release(ctx context.Context, key string, note string) error
}

type keyCtx struct{}

// WithKey attaches the key forwarded to upstream services.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFrom returns the key set by WithKey, or "".
func KeyFrom(ctx context.Context) string {
	if k, ok := ctx.Value(keyCtx{}).(string); ok {
		return k
	}
	return ""
}
