package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
var ErrSessionNotFound = errors.New("checkout session not found")

// Session is one open checkout page. It owns at most one coupon, one
// address selection and one payment attempt at a time.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	coupons coupon.Selection

	// flow serializes order submission and payment creation.
	flow sync.Mutex

	mu        sync.Mutex
	lastSeen  time.Time
	addressID string
	payment   *payment.Session
}

// AddressID returns the selected address, or "".
func (s *Session) AddressID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressID
}

func (s *Session) setAddressID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressID = id
}

// pickAddress selects from addrs. A selection deleted elsewhere falls back
// to the default address, which then becomes the selection.
func (s *Session) pickAddress(addrs []address.Address) (*address.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := address.Select(addrs, s.addressID)
	if errors.Is(err, address.ErrNotFound) {
		a, err = address.Select(addrs, "")
	}
	if err != nil {
		return nil, err
	}
	if s.addressID != "" {
		s.addressID = a.ID
	}
	return a, nil
}

// Payment returns the current payment attempt, or nil.
func (s *Session) Payment() *payment.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payment
}

func (s *Session) setPayment(p *payment.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = p
}

// paymentInFlight reports whether an unresolved attempt exists.
func (s *Session) paymentInFlight() bool {
	p := s.Payment()
	return p != nil && !p.Status().IsTerminal()
}

// Registry holds live sessions in memory. Each owner has at most one
// session; starting a new one discards the previous.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byOwner  map[string]string
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry whose sessions expire after ttl of
// inactivity.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]string),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create opens a session for owner.
func (r *Registry) Create(owner string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: now,
		lastSeen:  now,
	}
	if prev, ok := r.byOwner[owner]; ok {
		delete(r.sessions, prev)
	}
	r.sessions[s.ID] = s
	r.byOwner[owner] = s.ID
	return s
}

// Get returns the live session id owned by owner and refreshes its TTL.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		return nil, ErrSessionNotFound
	}
	now := r.now()
	if r.expired(s, now) {
		r.remove(s)
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
	return s, nil
}

// Delete discards a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		r.remove(s)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for _, s := range r.sessions {
		if r.expired(s, now) {
			r.remove(s)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				lg.Debug("Swept checkout sessions", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > r.ttl
}

func (r *Registry) remove(s *Session) {
	delete(r.sessions, s.ID)
	if r.byOwner[s.Owner] == s.ID {
		delete(r.byOwner, s.Owner)
	}
}
