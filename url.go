package avatar

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Cached value encoding. The available key only ever stores "false" (it
// defaults to true when absent); the image key stores the resolved URL, or
// negativeEntry for a cached "no avatar here" result. A formatted URL always
// contains "://", so the empty string is unambiguous.
const (
	hostUnavailableValue = "false"
	negativeEntry        = ""
)

// HTTPDoer is the minimal HTTP client used for avatar probes. *http.Client
// satisfies it; redirect following and the probe timeout come from the
// client configuration.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// mailHash returns the MD5 hex digest of the lower-cased email. This is the
// per-recipient cache key component and the %(mail_hash)s substitution
// value; it is not used for anything security sensitive.
func mailHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email))) // #nosec G401 -- cache key only
	return hex.EncodeToString(sum[:])
}

// expandTemplate substitutes the %(username)s, %(mail_hash)s and %(upn)s
// placeholders into a URL template. Missing upn substitutes as "".
func expandTemplate(template string, user User, hash string) string {
	return strings.NewReplacer(
		"%(username)s", user.GetUsername(),
		"%(mail_hash)s", hash,
		"%(upn)s", attributeString(user.GetAttributes(), "upn"),
	).Replace(template)
}

// gravatarURL builds the Gravatar lookup URL for a user. The hash in the
// URL path is SHA-256 of the lower-cased email, per the Gravatar API.
func (s *service) gravatarURL(user User) string {
	sum := sha256.Sum256([]byte(strings.ToLower(user.GetEmail())))
	query := url.Values{
		"size":    {"158"},
		"rating":  {"g"},
		"default": {"404"},
	}
	return fmt.Sprintf("%s/avatar/%s?%s", s.opts.gravatarBase, hex.EncodeToString(sum[:]), query.Encode())
}

// cacheKeys derives the two cache keys for a formatted URL: the hostname
// availability key and the per-recipient image key. The same (hostname,
// mail hash) pair always maps to the same keys regardless of whether it is
// reached through direct resolution or prefetch.
func (s *service) cacheKeys(formatted, hash string) (availKey, imageKey string) {
	var hostname string
	if u, err := url.Parse(formatted); err == nil {
		hostname = u.Hostname()
	}
	availKey = fmt.Sprintf("%s/%s/available", s.opts.namespace, hostname)
	imageKey = fmt.Sprintf("%s/%s/%s", s.opts.namespace, hostname, hash)
	return availKey, imageKey
}

// hostAvailable interprets a cached availability value. Anything that does
// not parse as a boolean counts as available; only an explicit negative
// entry suppresses resolution.
func hostAvailable(value string) bool {
	available, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}
	return available
}

// resolveURL resolves a URL-template mode for a user, honoring the
// availability cache protocol:
//
//  1. A prefetched negative availability entry short-circuits to no result.
//  2. Without an active prefetch scope, the durable availability entry is
//     consulted directly (absent means available).
//  3. A prefetched image entry is returned as-is, including cached
//     negatives. A key missing from an active prefetch scope is a cache
//     miss and falls through to the probe.
//  4. Without an active prefetch scope, a durable image entry (including a
//     cached negative) is returned without probing.
//  5. Otherwise the URL is probed over the network.
//
// Cache read failures are treated as misses: resolution never fails, it
// only gets slower.
func (s *service) resolveURL(ctx context.Context, user User, template string) (string, bool) {
	hash := mailHash(user.GetEmail())
	formatted := expandTemplate(template, user, hash)
	availKey, imageKey := s.cacheKeys(formatted, hash)

	scope := prefetchFromContext(ctx)
	if scope != nil {
		if value, ok := scope.get(availKey); ok && !hostAvailable(value) {
			s.otel.recordCacheHit(ctx, "available")
			return "", false
		}
	} else {
		value, ok, err := s.cache.Get(ctx, availKey)
		if err != nil {
			s.logger.Debug("availability cache read failed", "key", availKey, "error", err)
		} else if ok && !hostAvailable(value) {
			s.otel.recordCacheHit(ctx, "available")
			return "", false
		}
	}

	if scope != nil {
		if value, ok := scope.get(imageKey); ok {
			s.otel.recordCacheHit(ctx, "image")
			return value, value != negativeEntry
		}
		// Key absent from the batch: treat as a miss and probe.
	} else {
		value, ok, err := s.cache.Get(ctx, imageKey)
		if err != nil {
			s.logger.Debug("image cache read failed", "key", imageKey, "error", err)
		} else if ok {
			s.otel.recordCacheHit(ctx, "image")
			return value, value != negativeEntry
		}
	}
	s.otel.recordCacheMiss(ctx, "image")

	return s.probe(ctx, formatted, availKey, imageKey)
}

// probeResult is the outcome of a network probe carried through the
// singleflight group.
type probeResult struct {
	url string
	ok  bool
}

// probe performs the network HEAD probe for a formatted URL. Concurrent
// probes for the same image key are deduplicated, and total in-flight
// probes are bounded by the service's probe semaphore.
func (s *service) probe(ctx context.Context, formatted, availKey, imageKey string) (string, bool) {
	v, _, _ := s.probeGroup.Do(imageKey, func() (any, error) {
		return s.probeOnce(ctx, formatted, availKey, imageKey), nil
	})
	result := v.(probeResult)
	return result.url, result.ok
}

// probeOnce issues a single bounded HEAD request and applies the
// probe-outcome caching protocol:
//
//   - 404: cache a negative image entry, no result.
//   - non-image content type: cache a negative image entry, no result.
//   - timeout, connection failure or HTTP error status: mark the whole
//     hostname unavailable, no result.
//   - any other request failure: return the URL optimistically WITHOUT
//     caching. Unknown failures are non-authoritative; caching them would
//     turn transient local errors into eight hours of false negatives.
//   - success: cache and return the formatted URL.
func (s *service) probeOnce(ctx context.Context, formatted, availKey, imageKey string) probeResult {
	start := time.Now()

	if err := s.probeSem.Acquire(ctx, 1); err != nil {
		// Caller context ended while waiting for a probe slot. Nothing was
		// learned about the host; pass the URL through uncached.
		s.finishProbe(ctx, formatted, "optimistic", start)
		return probeResult{url: formatted, ok: true}
	}
	defer s.probeSem.Release(1)

	probeCtx, cancel := context.WithTimeout(ctx, s.opts.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, formatted, nil)
	if err != nil {
		s.finishProbe(ctx, formatted, "optimistic", start)
		return probeResult{url: formatted, ok: true}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isHostError(err) {
			s.markHostUnavailable(ctx, formatted, availKey, err.Error())
			s.finishProbe(ctx, formatted, "host_unavailable", start)
			return probeResult{}
		}
		s.logger.Debug("unclassified probe failure, passing URL through",
			"url", formatted, "error", err)
		s.finishProbe(ctx, formatted, "optimistic", start)
		return probeResult{url: formatted, ok: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.cacheSet(ctx, imageKey, negativeEntry)
		s.finishProbe(ctx, formatted, "negative", start)
		return probeResult{}
	case !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/"):
		s.cacheSet(ctx, imageKey, negativeEntry)
		s.finishProbe(ctx, formatted, "negative", start)
		return probeResult{}
	case resp.StatusCode >= http.StatusBadRequest:
		s.markHostUnavailable(ctx, formatted, availKey,
			fmt.Sprintf("status %d", resp.StatusCode))
		s.finishProbe(ctx, formatted, "host_unavailable", start)
		return probeResult{}
	}

	s.cacheSet(ctx, imageKey, formatted)
	s.finishProbe(ctx, formatted, "found", start)
	return probeResult{url: formatted, ok: true}
}

// finishProbe records probe telemetry and publishes the best-effort
// AvatarProbed event.
func (s *service) finishProbe(ctx context.Context, formatted, outcome string, start time.Time) {
	s.otel.recordProbe(ctx, outcome, time.Since(start))

	if s.events != nil {
		if err := s.events.AvatarProbed.Publish(ctx, AvatarProbedEvent{
			URL:     formatted,
			Outcome: outcome,
			At:      time.Now().UTC(),
		}); err != nil {
			s.opts.safeEventPublishFailure("AvatarProbed", err)
		}
	}
}

// isHostError reports whether a probe transport error indicates the host
// itself is unreachable (timeout, connection or DNS failure) as opposed to
// some other request-level failure.
func isHostError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// markHostUnavailable caches a negative availability entry for the
// hostname and publishes a HostUnavailable event.
func (s *service) markHostUnavailable(ctx context.Context, formatted, availKey, reason string) {
	hostname := ""
	if u, err := url.Parse(formatted); err == nil {
		hostname = u.Hostname()
	}
	s.logger.Warn("marking avatar host unavailable",
		"hostname", hostname, "url", formatted, "reason", reason)
	s.cacheSet(ctx, availKey, hostUnavailableValue)
	s.otel.recordHostUnavailable(ctx)

	if s.events != nil {
		if err := s.events.HostUnavailable.Publish(ctx, HostUnavailableEvent{
			Hostname: hostname,
			URL:      formatted,
			Reason:   reason,
			At:       time.Now().UTC(),
		}); err != nil {
			s.opts.safeEventPublishFailure("HostUnavailable", err)
		}
	}
}

// cacheSet writes a probe outcome with the configured status TTL.
// Write failures are logged, not surfaced; the next resolution probes again.
func (s *service) cacheSet(ctx context.Context, key, value string) {
	if err := s.cache.Set(ctx, key, value, s.opts.statusTTL); err != nil {
		s.logger.Warn("avatar cache write failed", "key", key, "error", err)
	}
}
