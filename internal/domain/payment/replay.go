package payment

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// UsedLookup answers whether a payment ID completed an attempt.
type UsedLookup func(ctx context.Context, paymentID string) (bool, error)

// ReplayGuard rejects gateway payment IDs that already completed an attempt.
// A bloom filter answers most lookups in memory; only probable hits go to
// the authoritative lookup.
type ReplayGuard struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	lookup UsedLookup
}

// NewReplayGuard sizes the filter for capacity IDs at false positive rate fp.
func NewReplayGuard(capacity uint, fp float64, lookup UsedLookup) *ReplayGuard {
	return &ReplayGuard{
		filter: bloom.NewWithEstimates(capacity, fp),
		lookup: lookup,
	}
}

// Seen reports whether paymentID was used before.
func (g *ReplayGuard) Seen(ctx context.Context, paymentID string) (bool, error) {
	g.mu.Lock()
	maybe := g.filter.TestString(paymentID)
	g.mu.Unlock()

	if !maybe {
		return false, nil
	}
	used, err := g.lookup(ctx, paymentID)
	if err != nil {
		return false, errors.Wrap(err, "lookup payment")
	}
	return used, nil
}

// Add marks paymentID as used.
func (g *ReplayGuard) Add(paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter.AddString(paymentID)
}

// Warm loads previously used IDs, typically at startup.
func (g *ReplayGuard) Warm(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.filter.AddString(id)
	}
}
