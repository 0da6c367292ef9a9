package avatar

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rbaliyan/avatar/cache"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service resolves display avatars for users according to a per-tenant
// ordered list of avatar modes.
type Service interface {
	ServiceHealth

	// Connect establishes connections to the cache backend and event bus.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error

	// Avatar resolves the avatar for a user under the active tenant's
	// policy. The result is always non-empty: a URL, a data URI, or the
	// configured default asset path. Resolution never fails; network and
	// cache problems degrade to the next mode in the policy.
	Avatar(ctx context.Context, user User) string

	// Prefetch batch-fetches the cache entries needed to resolve a list of
	// users and installs them in the returned context. The ReleaseFunc must
	// be called when the scope ends.
	Prefetch(ctx context.Context, users []User) (context.Context, ReleaseFunc, error)

	// Events returns per-service event instances for subscribing and
	// publishing.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// renderKey identifies a memoized initials render by value.
type renderKey struct {
	name string
	cfg  InitialsConfig
}

// service is the default implementation of Service.
type service struct {
	cache      cache.Store
	httpClient HTTPDoer
	logger     *slog.Logger
	opts       *options
	state      int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins    *pluginRegistry
	otel       *otelInstrumentation

	probeSem   *semaphore.Weighted // bounds concurrent network probes
	probeGroup singleflight.Group  // dedupes concurrent probes per image key
	renders    *ttlcache.Cache[renderKey, string]

	eventBus *event.Bus
	events   *ServiceEvents

	activeScopes int64 // outstanding prefetch scopes, for leak reporting
}

// NewService creates a new avatar resolution service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.cache == nil {
		return nil, ErrCacheRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		// Follows redirects by default; the timeout bounds the whole probe.
		httpClient = &http.Client{Timeout: o.probeTimeout}
	}

	return &service{
		cache:      o.cache,
		httpClient: httpClient,
		logger:     o.logger,
		opts:       o,
		plugins:    plugins,
		otel:       otelInstr,
		probeSem:   semaphore.NewWeighted(int64(o.maxConcurrentProbes)),
		renders: ttlcache.New[renderKey, string](
			ttlcache.WithCapacity[renderKey, string](o.renderCacheSize),
		),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to the cache backend and event bus.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition prevents callers from seeing partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.cache.Connect(ctx); err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.cache.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.cache.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("avatar service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "avatar"
	}
	// Each bus needs a unique name, so append a counter suffix.
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close closes connections to backends. Unreleased prefetch scopes are
// reported here rather than silently dropped.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	if leaked := atomic.LoadInt64(&s.activeScopes); leaked > 0 {
		s.logger.Warn("prefetch scopes were never released", "count", leaked)
	}

	var errs []error

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Close event bus only if using a real transport; the noop bus holds
	// no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.cache.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}

	s.renders.DeleteAll()

	return errors.Join(errs...)
}

// tenant resolves the active tenant: request-scoped from the context
// first, then the configured provider, then the static tenant option.
func (s *service) tenant(ctx context.Context) Tenant {
	if tenant, ok := TenantFromContext(ctx); ok {
		return tenant
	}
	if s.opts.tenantProvider != nil {
		if tenant := s.opts.tenantProvider(ctx); tenant != nil {
			return tenant
		}
	}
	return s.opts.tenant
}

// policy returns the active tenant's avatar policy string, "" if no tenant
// is configured.
func (s *service) policy(ctx context.Context) string {
	if tenant := s.tenant(ctx); tenant != nil {
		return tenant.GetAvatarModes()
	}
	return ""
}

// Avatar resolves the avatar for a user under the active tenant's policy.
func (s *service) Avatar(ctx context.Context, user User) string {
	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "avatar.resolve")

	resolved, kind := s.resolve(ctx, user)

	s.otel.recordResolve(ctx, kind.String(), time.Since(start))
	endSpan(nil)
	return resolved
}

// resolve tries each mode of the tenant policy in order and returns the
// first non-empty result and the mode kind that produced it. An empty or
// entirely unmatched policy falls back to the none mode, so the result is
// never empty.
func (s *service) resolve(ctx context.Context, user User) (string, ModeKind) {
	for _, hook := range s.plugins.resolve {
		if avatar, ok := hook.BeforeResolve(ctx, user); ok && avatar != "" {
			return avatar, ModeNone
		}
	}

	resolved, kind := "", ModeNone
	for _, mode := range ParseModes(s.policy(ctx)) {
		if avatar, ok := s.resolveMode(ctx, user, mode); ok {
			resolved, kind = avatar, mode.Kind
			break
		}
	}
	if resolved == "" {
		// Final fallback: the none mode always yields a result.
		resolved = s.opts.defaultAvatar
	}

	for _, hook := range s.plugins.resolve {
		hook.AfterResolve(ctx, user, resolved)
	}
	return resolved, kind
}

// resolveMode resolves a single parsed mode for a user. ok is false when
// the mode yields no result and the next mode in the policy should be tried.
func (s *service) resolveMode(ctx context.Context, user User, mode Mode) (string, bool) {
	switch mode.Kind {
	case ModeNone:
		return s.opts.defaultAvatar, true
	case ModeInitials:
		return s.generatedAvatar(user), true
	case ModeGravatar:
		return s.resolveURL(ctx, user, s.gravatarURL(user))
	case ModeAttribute:
		value, ok := attributePath(user.GetAttributes(), mode.Path)
		if !ok {
			return "", false
		}
		// Only non-empty string leaves count as an avatar reference; an
		// empty string means "no avatar" and falls through to the next mode.
		avatar, ok := value.(string)
		return avatar, ok && avatar != ""
	case ModeURL:
		return s.resolveURL(ctx, user, mode.Template)
	default:
		return "", false
	}
}

// generatedAvatar renders an initials avatar for the user as a base64 SVG
// data URI. The display name is used when present, then the username, then
// the literal "a k".
func (s *service) generatedAvatar(user User) string {
	name := strings.TrimSpace(user.GetName())
	if name == "" {
		name = strings.TrimSpace(user.GetUsername())
	}
	if name == "" {
		name = "a k"
	}

	svg := s.renderCached(name)
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

// renderCached memoizes RenderInitials by (name, config). Rendering is pure,
// so entries never go stale; the cache is bounded, not expiring.
func (s *service) renderCached(name string) string {
	key := renderKey{name: name, cfg: s.opts.initials}
	loader := ttlcache.LoaderFunc[renderKey, string](
		func(c *ttlcache.Cache[renderKey, string], key renderKey) *ttlcache.Item[renderKey, string] {
			return c.Set(key, RenderInitials(key.name, key.cfg), ttlcache.NoTTL)
		},
	)
	return s.renders.Get(key, ttlcache.WithLoader[renderKey, string](loader)).Value()
}
