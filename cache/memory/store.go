// Package memory provides an in-memory cache.Store implementation for
// testing and single-process deployments. Entries are not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/avatar/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// entry is a stored value with its expiry deadline.
// A zero deadline means the entry never expires.
type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store implements cache.Store with in-memory storage.
// Thread-safe for concurrent use. Expired entries are evicted lazily on
// read and opportunistically on write.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]entry
	connected int32

	// now is overridable in tests to exercise TTL expiry.
	now func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Get returns the value for key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return "", false, cache.ErrNotConnected
	}
	if key == "" {
		return "", false, cache.ErrInvalidKey
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; the entry may have been replaced.
		if cur, ok := s.entries[key]; ok && cur.expired(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// GetMany returns present, non-expired entries for the given keys.
func (s *Store) GetMany(_ context.Context, keys []string) (map[string]string, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, cache.ErrNotConnected
	}

	now := s.now()
	result := make(map[string]string, len(keys))
	s.mu.RLock()
	for _, key := range keys {
		if e, ok := s.entries[key]; ok && !e.expired(now) {
			result[key] = e.value
		}
	}
	s.mu.RUnlock()
	return result, nil
}

// Set stores value under key with the given TTL.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Advance shifts the store's notion of "now" forward by d. Test helper for
// exercising TTL expiry without sleeping. Not safe to call concurrently
// with other store operations.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	base := s.now
	s.now = func() time.Time { return base().Add(d) }
	s.mu.Unlock()
}
