package avatar

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/avatar/cache"
)

// Default configuration values.
const (
	// DefaultStatusTTL is how long probe outcomes (positive and negative)
	// stay cached.
	DefaultStatusTTL = 8 * time.Hour

	// DefaultProbeTimeout bounds a single avatar URL probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultMaxConcurrentProbes limits in-flight network probes per service.
	DefaultMaxConcurrentProbes = 10

	// DefaultGravatarURL is the base URL of the Gravatar service.
	DefaultGravatarURL = "https://www.gravatar.com"

	// DefaultAvatarPath is the static asset served for the none mode.
	DefaultAvatarPath = "/static/dist/assets/images/user_default.png"

	// DefaultCacheNamespace prefixes all avatar cache keys.
	DefaultCacheNamespace = "avatars"

	// DefaultRenderCacheSize bounds the memoized initials render cache.
	DefaultRenderCacheSize = 1024
)

// TenantProvider supplies the process-wide current tenant when no
// request-scoped tenant is present in the context.
type TenantProvider func(ctx context.Context) Tenant

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// options holds avatar service configuration.
type options struct {
	cache      cache.Store
	httpClient HTTPDoer
	logger     *slog.Logger

	plugins []Plugin

	// Resolution configuration
	defaultAvatar  string
	namespace      string
	gravatarBase   string
	tenant         Tenant
	tenantProvider TenantProvider

	// Cache/probe configuration
	statusTTL           time.Duration
	probeTimeout        time.Duration
	maxConcurrentProbes int

	// Initials rendering
	initials        InitialsConfig
	renderCacheSize uint64

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// safeEventPublishFailure calls the event failure callback with panic
// recovery so a misbehaving handler cannot take down a resolution.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:              slog.Default(),
		defaultAvatar:       DefaultAvatarPath,
		namespace:           DefaultCacheNamespace,
		gravatarBase:        DefaultGravatarURL,
		statusTTL:           DefaultStatusTTL,
		probeTimeout:        DefaultProbeTimeout,
		maxConcurrentProbes: DefaultMaxConcurrentProbes,
		initials:            DefaultInitialsConfig(),
		renderCacheSize:     DefaultRenderCacheSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures an avatar service.
type Option func(*options)

// --- Core Options ---

// WithCache sets the durable cache store (required).
func WithCache(s cache.Store) Option {
	return func(o *options) {
		if s != nil {
			o.cache = s
		}
	}
}

// WithHTTPClient sets the HTTP client used for avatar URL probes.
// The default client follows redirects and times out after
// DefaultProbeTimeout.
func WithHTTPClient(c HTTPDoer) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Tenant Options ---

// WithTenant sets a static tenant used when no request-scoped tenant is in
// the context. Useful for single-tenant deployments and tests.
func WithTenant(t Tenant) Option {
	return func(o *options) {
		if t != nil {
			o.tenant = t
		}
	}
}

// WithTenantProvider sets the process-wide current-tenant lookup, consulted
// when no request-scoped tenant is in the context. Takes precedence over
// WithTenant.
func WithTenantProvider(p TenantProvider) Option {
	return func(o *options) {
		if p != nil {
			o.tenantProvider = p
		}
	}
}

// --- Resolution Options ---

// WithDefaultAvatar sets the static asset reference returned by the none
// mode and the final fallback.
func WithDefaultAvatar(path string) Option {
	return func(o *options) {
		if path != "" {
			o.defaultAvatar = path
		}
	}
}

// WithCacheNamespace sets the prefix for avatar cache keys. Deployments
// sharing one cache between services should give each its own namespace.
func WithCacheNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithGravatarURL overrides the Gravatar base URL. Useful for pointing at
// a mirror or a test server.
func WithGravatarURL(base string) Option {
	return func(o *options) {
		if base != "" {
			o.gravatarBase = base
		}
	}
}

// WithStatusTTL sets how long probe outcomes stay cached. Default is 8 hours.
func WithStatusTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.statusTTL = ttl
		}
	}
}

// WithProbeTimeout sets the timeout for a single URL probe. Default is 5s.
// Only applies to the default HTTP client; a client supplied via
// WithHTTPClient manages its own timeouts.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithMaxConcurrentProbes limits in-flight network probes. Default is 10.
func WithMaxConcurrentProbes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentProbes = n
		}
	}
}

// WithInitialsConfig sets the rendering configuration for the initials mode.
func WithInitialsConfig(cfg InitialsConfig) Option {
	return func(o *options) {
		o.initials = cfg.normalize()
	}
}

// WithRenderCacheSize bounds the memoized initials render cache.
// Default is 1024 entries.
func WithRenderCacheSize(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.renderCacheSize = n
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the avatar service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry and
// event bus naming. Default is "avatar".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets a custom event transport.
// Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client used for the event transport.
// Without a transport or Redis client, events use an in-process noop
// transport.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		if c != nil {
			o.redisClient = c
		}
	}
}

// WithEventPublishFailureHandler sets the callback invoked when an event
// fails to publish. The default logs the failure.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
