package avatar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/rbaliyan/avatar/cache"
	"github.com/rbaliyan/avatar/cache/memory"
)

// setupTestServiceWithStore creates a connected service around an explicit
// cache store so tests can inspect and seed cache entries.
func setupTestServiceWithStore(t *testing.T, store cache.Store, opts ...Option) Service {
	t.Helper()
	svc, err := NewService(append([]Option{WithCache(store)}, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

// newProbeServer starts a test server that counts incoming probes.
func newProbeServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// serveImage responds as a healthy avatar host.
func serveImage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
}

// cacheKeysFor mirrors the key derivation for assertions.
func cacheKeysFor(t *testing.T, rawURL, email string) (availKey, imageKey string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	hash := mailHash(email)
	return fmt.Sprintf("%s/%s/available", DefaultCacheNamespace, u.Hostname()),
		fmt.Sprintf("%s/%s/%s", DefaultCacheNamespace, u.Hostname(), hash)
}

func TestMailHash(t *testing.T) {
	if got := mailHash("USER@example.com"); got != "b58996c504c5638798eb6b511e6f49af" {
		t.Errorf("mailHash = %q", got)
	}
}

func TestExpandTemplate(t *testing.T) {
	user := UserInfo{
		Username:   "jdoe",
		Email:      "user@example.com",
		Attributes: map[string]any{"upn": "jdoe@corp.example.com"},
	}
	hash := mailHash(user.Email)

	tests := []struct {
		template string
		want     string
	}{
		{
			"https://x.example.com/%(username)s.png",
			"https://x.example.com/jdoe.png",
		},
		{
			"https://x.example.com/%(mail_hash)s",
			"https://x.example.com/" + hash,
		},
		{
			"https://x.example.com/%(upn)s",
			"https://x.example.com/jdoe@corp.example.com",
		},
		{
			"https://x.example.com/static.png",
			"https://x.example.com/static.png",
		},
	}
	for _, tc := range tests {
		if got := expandTemplate(tc.template, user, hash); got != tc.want {
			t.Errorf("expandTemplate(%q) = %q, want %q", tc.template, got, tc.want)
		}
	}

	t.Run("missing upn substitutes empty", func(t *testing.T) {
		got := expandTemplate("https://x.example.com/%(upn)s.png", UserInfo{}, "h")
		if got != "https://x.example.com/.png" {
			t.Errorf("got %q", got)
		}
	})
}

func TestHostAvailable(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"false", false},
		{"0", false},
		{"true", true},
		{"1", true},
		{"garbage", true}, // non-boolean values never suppress resolution
	}
	for _, tc := range tests {
		if got := hostAvailable(tc.value); got != tc.want {
			t.Errorf("hostAvailable(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestURLModeProbeSuccess(t *testing.T) {
	srv, hits := newProbeServer(t, serveImage)
	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithTenant(TenantInfo{AvatarModes: srv.URL + "/%(username)s.png"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com", Username: "jdoe"}
	want := srv.URL + "/jdoe.png"

	if got := svc.Avatar(ctx, user); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Fatalf("expected 1 probe, got %d", n)
	}

	// Second resolution must be served from cache.
	if got := svc.Avatar(ctx, user); got != want {
		t.Fatalf("second resolution: got %q, want %q", got, want)
	}
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("expected second resolution to be cached, got %d probes", n)
	}

	// The positive outcome is durably cached under the image key.
	_, imageKey := cacheKeysFor(t, want, user.Email)
	value, ok, err := store.Get(ctx, imageKey)
	if err != nil || !ok || value != want {
		t.Errorf("image key = (%q, %v, %v), want cached URL", value, ok, err)
	}
}

func TestURLModeNotFound(t *testing.T) {
	srv, hits := newProbeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithTenant(TenantInfo{AvatarModes: srv.URL + "/%(username)s.png,none"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com", Username: "jdoe"}

	if got := svc.Avatar(ctx, user); got != DefaultAvatarPath {
		t.Fatalf("got %q, want fallthrough to default", got)
	}

	// Negative result is cached: no second probe.
	svc.Avatar(ctx, user)
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("expected 1 probe, got %d", n)
	}

	_, imageKey := cacheKeysFor(t, srv.URL+"/jdoe.png", user.Email)
	value, ok, err := store.Get(ctx, imageKey)
	if err != nil || !ok || value != "" {
		t.Errorf("image key = (%q, %v, %v), want cached negative", value, ok, err)
	}
}

func TestURLModeWrongContentType(t *testing.T) {
	srv, hits := newProbeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
	})
	svc := setupTestServiceWithStore(t, memory.New(),
		WithTenant(TenantInfo{AvatarModes: srv.URL + "/a.png,none"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com"}

	if got := svc.Avatar(ctx, user); got != DefaultAvatarPath {
		t.Fatalf("got %q, want fallthrough to default", got)
	}
	svc.Avatar(ctx, user)
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("expected negative result to be cached, got %d probes", n)
	}
}

func TestURLModeErrorStatusMarksHostUnavailable(t *testing.T) {
	srv, hits := newProbeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithTenant(TenantInfo{AvatarModes: srv.URL + "/%(mail_hash)s,none"}))

	ctx := context.Background()
	alice := UserInfo{Email: "alice@example.com"}
	bob := UserInfo{Email: "bob@example.com"}

	if got := svc.Avatar(ctx, alice); got != DefaultAvatarPath {
		t.Fatalf("got %q, want fallthrough to default", got)
	}
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Fatalf("expected 1 probe, got %d", n)
	}

	availKey, _ := cacheKeysFor(t, srv.URL, alice.Email)
	if value, ok, _ := store.Get(ctx, availKey); !ok || hostAvailable(value) {
		t.Fatalf("availability key = (%q, %v), want cached false", value, ok)
	}

	// Any other user against the same hostname short-circuits without a probe.
	if got := svc.Avatar(ctx, bob); got != DefaultAvatarPath {
		t.Fatalf("got %q, want fallthrough to default", got)
	}
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("expected no probe for second user, got %d", n)
	}
}

func TestURLModeConnectionFailureMarksHostUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(serveImage))
	target := srv.URL
	srv.Close() // connection refused from here on

	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithTenant(TenantInfo{AvatarModes: target + "/a.png,none"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com"}

	if got := svc.Avatar(ctx, user); got != DefaultAvatarPath {
		t.Fatalf("got %q, want fallthrough to default", got)
	}

	availKey, _ := cacheKeysFor(t, target, user.Email)
	if value, ok, _ := store.Get(ctx, availKey); !ok || hostAvailable(value) {
		t.Errorf("availability key = (%q, %v), want cached false", value, ok)
	}
}

// errDoer fails every request with an unclassifiable error.
type errDoer struct {
	calls int64
}

func (d *errDoer) Do(*http.Request) (*http.Response, error) {
	atomic.AddInt64(&d.calls, 1)
	return nil, errors.New("something odd happened")
}

func TestURLModeUnclassifiedFailureIsOptimistic(t *testing.T) {
	doer := &errDoer{}
	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithHTTPClient(doer),
		WithTenant(TenantInfo{AvatarModes: "https://avatars.example.com/%(username)s.png"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com", Username: "jdoe"}
	want := "https://avatars.example.com/jdoe.png"

	if got := svc.Avatar(ctx, user); got != want {
		t.Fatalf("got %q, want optimistic URL", got)
	}

	// Nothing was cached: the next resolution probes again.
	if got := svc.Avatar(ctx, user); got != want {
		t.Fatalf("got %q, want optimistic URL", got)
	}
	if n := atomic.LoadInt64(&doer.calls); n != 2 {
		t.Errorf("expected 2 probes (nothing cached), got %d", n)
	}

	availKey, imageKey := cacheKeysFor(t, want, user.Email)
	if _, ok, _ := store.Get(ctx, availKey); ok {
		t.Error("availability key should not be cached for unclassified failures")
	}
	if _, ok, _ := store.Get(ctx, imageKey); ok {
		t.Error("image key should not be cached for unclassified failures")
	}
}

func TestURLModeNegativeCacheExpiry(t *testing.T) {
	srv, hits := newProbeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	store := memory.New()
	svc := setupTestServiceWithStore(t, store,
		WithTenant(TenantInfo{AvatarModes: srv.URL + "/a.png,none"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com"}

	svc.Avatar(ctx, user)
	svc.Avatar(ctx, user)
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Fatalf("expected 1 probe before expiry, got %d", n)
	}

	// After the status TTL passes the entry expires and the URL is probed again.
	store.Advance(DefaultStatusTTL + 1)
	svc.Avatar(ctx, user)
	if n := atomic.LoadInt64(hits); n != 2 {
		t.Errorf("expected re-probe after TTL expiry, got %d probes", n)
	}
}

func TestGravatarMode(t *testing.T) {
	srv, _ := newProbeServer(t, serveImage)
	svc := setupTestServiceWithStore(t, memory.New(),
		WithGravatarURL(srv.URL),
		WithTenant(TenantInfo{AvatarModes: "gravatar"}))

	ctx := context.Background()
	user := UserInfo{Email: "user@example.com"}

	got := svc.Avatar(ctx, user)
	want := srv.URL + "/avatar/b4c9a289323b21a01c3e940f150eb9b8c542587f1abfd8f0e1cc1ffc5e475514" +
		"?default=404&rating=g&size=158"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGravatarModeFallthrough(t *testing.T) {
	srv, _ := newProbeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	svc := setupTestServiceWithStore(t, memory.New(),
		WithGravatarURL(srv.URL),
		WithTenant(TenantInfo{AvatarModes: "gravatar,initials"}))

	got := svc.Avatar(context.Background(), UserInfo{Email: "user@example.com", Name: "John Doe"})
	if got != dataURI(RenderInitials("John Doe", DefaultInitialsConfig())) {
		t.Errorf("expected fallthrough to initials, got %q", got)
	}
}

func TestProbeEventsPublishOverRealTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(serveImage))
	target := srv.URL
	srv.Close()

	svc := setupTestServiceWithStore(t, memory.New(),
		WithEventTransport(channel.New()),
		WithTenant(TenantInfo{AvatarModes: target + "/a.png,none"}))

	// Connection refused publishes HostUnavailable and AvatarProbed over the
	// channel transport; resolution must still complete and fall through.
	if got := svc.Avatar(context.Background(), UserInfo{Email: "user@example.com"}); got != DefaultAvatarPath {
		t.Errorf("got %q, want fallthrough to default", got)
	}
	if svc.Events() == nil {
		t.Error("expected registered service events")
	}
}

func TestIsHostError(t *testing.T) {
	if isHostError(errors.New("misc")) {
		t.Error("plain errors must not mark hosts unavailable")
	}
	if !isHostError(context.DeadlineExceeded) {
		t.Error("deadline errors mark hosts unavailable")
	}
	if !isHostError(fmt.Errorf("probe: %w", context.DeadlineExceeded)) {
		t.Error("wrapped deadline errors mark hosts unavailable")
	}
}
