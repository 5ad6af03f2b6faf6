package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory SubscriptionStore with the same
// compare-and-swap semantics as the Postgres implementation. Intended
// for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) GetByKitchen(_ context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Prefer the live record; fall back to the most recent terminal one
	// so retrial policy still sees the kitchen's history.
	var latest *Subscription
	for _, sub := range m.byID {
		if sub.KitchenID != kitchenID {
			continue
		}
		if !sub.Status.Terminal() {
			return sub.clone(), nil
		}
		if latest == nil || sub.UpdatedAt.After(latest.UpdatedAt) {
			latest = sub
		}
	}
	if latest != nil {
		return latest.clone(), nil
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.byID[id]; ok {
		return sub.clone(), nil
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) GetByExternalRef(_ context.Context, externalRef string) (*Subscription, error) {
	if externalRef == "" {
		return nil, ErrSubscriptionNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.byID {
		if sub.ExternalRef == externalRef {
			return sub.clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) Upsert(_ context.Context, sub *Subscription, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.byID[sub.ID]
	switch {
	case !exists && expectedVersion != 0:
		return ErrConflict
	case exists && stored.Version != expectedVersion:
		return ErrConflict
	}

	// Mirror the partial unique index: at most one live row per kitchen.
	if !sub.Status.Terminal() {
		for _, other := range m.byID {
			if other.ID != sub.ID && other.KitchenID == sub.KitchenID && !other.Status.Terminal() {
				return ErrConflict
			}
		}
	}

	cp := sub.clone()
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	m.byID[cp.ID] = cp

	sub.Version = cp.Version
	sub.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *MemoryStore) ListLapsed(_ context.Context, before time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.byID {
		if limit > 0 && len(out) >= limit {
			break
		}
		if sub.Status.Premium() && sub.Lapsed(before) {
			out = append(out, sub.clone())
		}
	}
	return out, nil
}

// MemoryLedger is an in-memory EventLedger.
type MemoryLedger struct {
	mu     sync.RWMutex
	events map[string]ProcessedEvent
}

// NewMemoryLedger creates an empty in-memory event ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string]ProcessedEvent)}
}

func (m *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryLedger) Record(_ context.Context, eventID string, subscriptionID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; ok {
		return nil
	}
	m.events[eventID] = ProcessedEvent{
		EventID:        eventID,
		SubscriptionID: subscriptionID,
		AppliedAt:      time.Now().UTC(),
	}
	return nil
}

// Len returns the number of recorded events.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

type cacheEntry struct {
	sub       *Subscription
	expiresAt time.Time
}

// MemoryCache is an in-memory StatusCache with TTL semantics.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
}

// NewMemoryCache creates an empty in-memory status cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[uuid.UUID]cacheEntry)}
}

func (m *MemoryCache) Get(_ context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[kitchenID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return entry.sub.clone(), nil
}

func (m *MemoryCache) Set(_ context.Context, sub *Subscription, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sub.KitchenID] = cacheEntry{sub: sub.clone(), expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, kitchenID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, kitchenID)
	return nil
}

// Contains reports whether a fresh entry exists for the kitchen.
// Exposed for cache-invalidation tests.
func (m *MemoryCache) Contains(kitchenID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[kitchenID]
	return ok && time.Now().Before(entry.expiresAt)
}

// NoopCache never hits and silently drops writes. Used when no cache
// backend is configured; every read computes from the store.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID) (*Subscription, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) Set(context.Context, *Subscription, time.Duration) error { return nil }

func (NoopCache) Delete(context.Context, uuid.UUID) error { return nil }
