package coupon

import "sync"

// Selection holds the single coupon applied to a checkout session.
//
// Applying is a two step operation: Begin issues a ticket before the code is
// validated and Commit stores the result only if no later Begin or Remove
// happened in between. A failed validation simply never commits, leaving the
// previous coupon in place.
type Selection struct {
	mu      sync.Mutex
	gen     uint64
	applied *Coupon
}

// Begin starts an apply attempt and returns its ticket.
func (s *Selection) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	return s.gen
}

// Commit replaces the applied coupon with c if ticket is still the latest.
// It reports whether the coupon was stored.
func (s *Selection) Commit(ticket uint64, c *Coupon) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket != s.gen {
		return false
	}
	s.applied = c
	return true
}

// Remove clears the applied coupon and supersedes any in-flight apply.
func (s *Selection) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.applied = nil
}

// Applied returns the current coupon, or nil.
func (s *Selection) Applied() *Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applied
}

// Code returns the applied coupon code, or "".
func (s *Selection) Code() string {
	if c := s.Applied(); c != nil {
		return c.Code
	}
	return ""
}
