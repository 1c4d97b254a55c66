package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// DefaultReservationLease bounds how long an uncompleted reservation blocks its key.
const DefaultReservationLease = time.Minute

type scopedKey struct {
	userID string
	key    string
}

type entry struct {
	response ports.StoredResponse
	pending  bool
	savedAt  time.Time
}

// Store retains idempotency responses for replaying duplicate requests. Entries older
// than the retention window are treated as absent; a non-positive window keeps them forever.
type Store struct {
	mu    sync.Mutex
	items map[scopedKey]entry
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
}

type Option func(*Store)

// WithClock replaces the wall clock used to age entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithReservationLease overrides DefaultReservationLease.
func WithReservationLease(lease time.Duration) Option {
	return func(s *Store) { s.lease = lease }
}

// NewStore creates a new in-memory idempotency store.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		items: make(map[scopedKey]entry),
		ttl:   ttl,
		lease: DefaultReservationLease,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve claims the key unless a live response or reservation already holds it.
func (s *Store) Reserve(_ context.Context, userID, key string) (*ports.StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopedKey{userID, key}
	if e, ok := s.items[k]; ok && !s.stale(e) {
		if e.pending {
			return nil, false, nil
		}
		value := e.response
		value.Body = append([]byte(nil), value.Body...)
		return &value, false, nil
	}

	s.items[k] = entry{pending: true, savedAt: s.now()}
	return nil, true, nil
}

// Complete stores the response for a pending reservation.
func (s *Store) Complete(_ context.Context, userID, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopedKey{userID, key}
	e, ok := s.items[k]
	if !ok || !e.pending {
		return ports.ErrReservationLost
	}
	response.Body = append([]byte(nil), response.Body...)
	s.items[k] = entry{response: response, savedAt: s.now()}
	return nil
}

// Release forgets a pending reservation. Completed responses are kept.
func (s *Store) Release(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopedKey{userID, key}
	if e, ok := s.items[k]; ok && e.pending {
		delete(s.items, k)
	}
	return nil
}

func (s *Store) stale(e entry) bool {
	age := s.now().Sub(e.savedAt)
	if e.pending {
		return s.lease > 0 && age >= s.lease
	}
	return s.ttl > 0 && age >= s.ttl
}
