package avatar

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ReleaseFunc releases a prefetch scope. It must be called when the scope
// ends, typically via defer; it is safe to call more than once.
type ReleaseFunc func()

// prefetchScope holds the result of one bulk cache read for the duration
// of a logical request or batch-render operation. A scope is installed in
// a derived context, so concurrent resolutions with different contexts
// never observe each other's prefetched data.
type prefetchScope struct {
	id       string
	values   map[string]string
	released atomic.Bool
}

// get returns the prefetched value for key. A released scope reports
// nothing as present, so stale scopes behave like no scope at all.
func (p *prefetchScope) get(key string) (string, bool) {
	if p.released.Load() {
		return "", false
	}
	value, ok := p.values[key]
	return value, ok
}

// prefetchCtxKey carries the active prefetch scope.
type prefetchCtxKey struct{}

// prefetchFromContext returns the active, unreleased prefetch scope, if any.
func prefetchFromContext(ctx context.Context) *prefetchScope {
	scope, ok := ctx.Value(prefetchCtxKey{}).(*prefetchScope)
	if !ok || scope.released.Load() {
		return nil
	}
	return scope
}

// Prefetch batch-fetches the avatar cache entries needed to resolve a list
// of users under the tenant's policy, using a single bulk cache read.
//
// Call this before resolving a list of users (e.g. before serializing a
// user list) to avoid one cache round trip per user. Resolution through
// the returned context consults the prefetched entries instead of the
// durable cache. A policy with no URL-based modes installs an empty scope:
// "prefetch attempted, nothing to prefetch" still suppresses per-user
// availability lookups for modes that are not URL-based.
//
// The returned ReleaseFunc must be called when the scope ends, regardless
// of success or failure; unreleased scopes are reported as leaks at Close.
func (s *service) Prefetch(ctx context.Context, users []User) (context.Context, ReleaseFunc, error) {
	if !s.IsConnected() {
		return ctx, func() {}, ErrNotConnected
	}

	modes := ParseModes(s.policy(ctx))

	keySet := make(map[string]struct{})
	for _, user := range users {
		if user == nil {
			continue
		}
		hash := mailHash(user.GetEmail())
		for _, mode := range modes {
			var template string
			switch mode.Kind {
			case ModeGravatar:
				template = s.gravatarURL(user)
			case ModeURL:
				template = mode.Template
			default:
				continue
			}
			formatted := expandTemplate(template, user, hash)
			availKey, imageKey := s.cacheKeys(formatted, hash)
			keySet[availKey] = struct{}{}
			keySet[imageKey] = struct{}{}
		}
	}

	values := map[string]string{}
	if len(keySet) > 0 {
		keys := make([]string, 0, len(keySet))
		for key := range keySet {
			keys = append(keys, key)
		}
		var err error
		values, err = s.cache.GetMany(ctx, keys)
		if err != nil {
			return ctx, func() {}, fmt.Errorf("avatar: prefetch cache read: %w", err)
		}
	}

	scope := &prefetchScope{id: uuid.NewString(), values: values}
	atomic.AddInt64(&s.activeScopes, 1)
	s.otel.recordPrefetch(ctx, len(keySet), len(values))
	s.logger.Debug("avatar prefetch scope installed",
		"scope", scope.id, "users", len(users), "keys", len(keySet), "hits", len(values))

	release := func() {
		if scope.released.CompareAndSwap(false, true) {
			atomic.AddInt64(&s.activeScopes, -1)
		}
	}
	return context.WithValue(ctx, prefetchCtxKey{}, scope), release, nil
}
