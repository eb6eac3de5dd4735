package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrUnknownKey is returned when completing a key that was never claimed.
var ErrUnknownKey = errors.New("unknown idempotency key")

// MemoryLedger is a process-local Ledger for development and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a MemoryLedger whose entries live for ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if rec, ok := l.records[key]; ok && rec.Status != StatusFailed && now.Before(rec.ExpiresAt) {
		cp := *rec
		return &cp, nil
	}
	l.records[key] = &Record{
		Key:       key,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	return nil, nil
}

func (l *MemoryLedger) Complete(_ context.Context, key string, status int, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return ErrUnknownKey
	}
	rec.Status = StatusDone
	rec.ResponseStatus = status
	rec.ResponseBody = append([]byte(nil), body...)
	rec.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return ErrUnknownKey
	}
	rec.Status = StatusFailed
	rec.UpdatedAt = l.now()
	return nil
}
