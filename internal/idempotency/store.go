// Package idempotency deduplicates client order intents by idempotency
// key, guaranteeing at most one accepted order per key even when
// concurrent callers submit the same retry.
package idempotency

import "sync"

// Store is a compare-and-set reservation map. It is the in-process fast
// path; the persistence port's unique constraint on orders.idempotency_key
// is the durable source of truth across restarts.
type Store struct {
	mu     sync.Mutex
	byKey  map[string]string // idempotency key -> order id
}

// New returns an empty Store.
func New() *Store {
	return &Store{byKey: make(map[string]string)}
}

// Reserve atomically claims key for orderID if no reservation exists
// yet. It returns (orderID, true) when the caller won the reservation,
// or (existingOrderID, false) when the key was already claimed — the
// caller should treat that as DUPLICATE_IDEMPOTENCY and return the
// existing order rather than doing any further work.
func (s *Store) Reserve(key, orderID string) (string, bool) {
	if key == "" {
		// Internally generated orders (bracket exits, iceberg children)
		// carry no idempotency key and are never deduplicated.
		return orderID, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[key]; ok {
		return existing, false
	}
	s.byKey[key] = orderID
	return orderID, true
}

// Release undoes a reservation made in error (validation failed before
// the order row was durably committed). Releasing a key that was never
// reserved, or was already released, is a no-op.
func (s *Store) Release(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
}

// Hydrate seeds the store from persisted orders on startup, so a
// process restart doesn't forget reservations that already exist
// durably.
func (s *Store) Hydrate(keyToOrderID map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range keyToOrderID {
		s.byKey[k] = v
	}
}
