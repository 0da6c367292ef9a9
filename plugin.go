package avatar

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for avatar service extensions.
// Plugins can hook into resolution to add custom behavior such as
// per-organization overrides, allow-listing of avatar hosts, or audit
// logging of resolved sources.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when the service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when the service closes.
	Close(ctx context.Context) error
}

// ResolveHook is called around avatar resolution.
// This is the primary extension point for custom resolution behavior.
type ResolveHook interface {
	Plugin
	// BeforeResolve is called before the tenant policy is evaluated.
	// Returning a non-empty avatar with override=true short-circuits
	// resolution with that result.
	BeforeResolve(ctx context.Context, user User) (avatar string, override bool)
	// AfterResolve is called with the final resolution result.
	// Resolution cannot be altered at this point; use it for observation.
	AfterResolve(ctx context.Context, user User, avatar string)
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all     []Plugin
	resolve []ResolveHook
	logger  *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(ResolveHook); ok {
		r.resolve = append(r.resolve, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse registration order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}
