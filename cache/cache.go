// Package cache defines the durable key/value store consumed by the avatar
// resolver. Implementations are in cache/memory, cache/redis, cache/postgres
// and cache/mongo subpackages.
//
// The store holds short-lived string entries with a per-entry TTL. There are
// no transactional guarantees: resolution tolerates stale reads within the
// TTL window, so implementations only need atomic single-key get/set and a
// bulk read. Absence of a key is meaningful (it is distinct from an empty
// value), which is why Get reports presence separately from the value.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache stores.
// Use errors.Is() to check for these errors.
var (
	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("cache: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("cache: already connected")

	// ErrInvalidKey is returned when an empty key is provided.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// Store is a durable key/value cache with TTL semantics.
//
// All operations must be safe for concurrent use. Implementations rely on
// the backend's native expiry where available (Redis EX, MongoDB TTL
// indexes) and filter expired entries on read otherwise.
type Store interface {
	// Connect establishes the backend connection and prepares schema/indexes.
	Connect(ctx context.Context) error
	// Close releases the store. The caller owns the underlying client/DB
	// handle and is responsible for closing it.
	Close(ctx context.Context) error

	// Get returns the value for key. ok is false when the key is absent
	// or expired; callers must not treat an empty value as absence.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetMany returns the values for the given keys in a single round trip.
	// The result contains entries only for keys that are present.
	GetMany(ctx context.Context, keys []string) (map[string]string, error)

	// Set stores value under key for the given TTL. A non-positive TTL
	// stores the entry without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
