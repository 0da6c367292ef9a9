// Package redis provides a Redis implementation of cache.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/avatar/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store using Redis. Entry TTLs map directly onto
// Redis key expiry, so no cleanup pass is needed.
type Store struct {
	client    redis.UniversalClient
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new Redis store with the provided client.
// Call Connect() to verify connectivity. The caller owns the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect verifies connectivity to Redis.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}

	s.logger.Debug("connected to Redis")
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the Redis client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Get returns the value for key. Missing keys are reported via ok=false.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return "", false, cache.ErrNotConnected
	}
	if key == "" {
		return "", false, cache.ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// GetMany returns present keys via a single MGET.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, cache.ErrNotConnected
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	result := make(map[string]string, len(keys))
	for i, v := range vals {
		if v == nil {
			continue // key absent
		}
		str, ok := v.(string)
		if !ok {
			s.logger.Warn("unexpected value type in redis", "key", keys[i])
			continue
		}
		result[keys[i]] = str
	}
	return result, nil
}

// Set stores value under key. A non-positive TTL stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
