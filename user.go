package avatar

import (
	"context"
	"strings"
)

// User is the read-only view of a user consumed by the resolver.
// Attributes may contain nested maps; dotted paths in attribute modes
// address them (e.g. "attributes.profile.picture").
type User interface {
	// GetEmail returns the user's email address.
	GetEmail() string
	// GetUsername returns the user's login name.
	GetUsername() string
	// GetName returns the user's display name. May be empty.
	GetName() string
	// GetAttributes returns the user's attribute map. May be nil.
	GetAttributes() map[string]any
}

// Tenant is the read-only view of a tenant consumed by the resolver.
type Tenant interface {
	// GetAvatarModes returns the tenant's avatar policy: a comma-separated
	// ordered list of mode descriptors, first match wins.
	GetAvatarModes() string
}

// UserInfo is a value implementation of User for tests and simple
// deployments where the user model is not backed by a database.
type UserInfo struct {
	Email      string
	Username   string
	Name       string
	Attributes map[string]any
}

// GetEmail returns the user's email address.
func (u UserInfo) GetEmail() string { return u.Email }

// GetUsername returns the user's login name.
func (u UserInfo) GetUsername() string { return u.Username }

// GetName returns the user's display name.
func (u UserInfo) GetName() string { return u.Name }

// GetAttributes returns the user's attribute map.
func (u UserInfo) GetAttributes() map[string]any { return u.Attributes }

// TenantInfo is a value implementation of Tenant.
type TenantInfo struct {
	// AvatarModes is the comma-separated avatar policy, e.g.
	// "gravatar,initials" or "attributes.avatar,https://cdn.example.com/%(username)s.png,none".
	AvatarModes string
}

// GetAvatarModes returns the tenant's avatar policy.
func (t TenantInfo) GetAvatarModes() string { return t.AvatarModes }

// Compile-time checks
var (
	_ User   = UserInfo{}
	_ Tenant = TenantInfo{}
)

// tenantCtxKey carries a request-scoped tenant.
type tenantCtxKey struct{}

// ContextWithTenant returns a context carrying a request-scoped tenant.
// Resolution uses it in preference to the service's tenant provider.
func ContextWithTenant(ctx context.Context, tenant Tenant) context.Context {
	if tenant == nil {
		return ctx
	}
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

// TenantFromContext returns the request-scoped tenant, if any.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	tenant, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return tenant, ok
}

// attributePath walks a dotted path through nested attribute maps.
// Returns false if any segment is missing or a non-map value is reached
// before the final segment.
func attributePath(attrs map[string]any, path string) (any, bool) {
	if attrs == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	current := any(attrs)
	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// attributeString returns the "upn"-style top-level string attribute,
// or "" when absent or not a string.
func attributeString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}
