package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/landmarklabs/sqlchat/api/metrics"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used in tests and as a fallback when no
// Redis endpoint is configured. Expiry is checked lazily on read.
type MemoryStore struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an empty MemoryStore with an injected clock.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{clock: clock, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[redisKey(ns, key)]
	s.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt)) {
		metrics.RecordCacheMiss(string(ns))
		return nil, false, nil
	}
	metrics.RecordCacheHit(string(ns))
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Put(_ context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[redisKey(ns, key)] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	delete(s.entries, redisKey(ns, key))
	s.mu.Unlock()
	return nil
}

// Sweep drops expired entries. Expiry is otherwise checked lazily on read,
// so a periodic sweep keeps an idle process from accumulating dead entries.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, counting expired ones not yet
// swept. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
