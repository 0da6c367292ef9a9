package avatar

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/avatar/cache"
)

// Sentinel errors for the avatar package.
// Use errors.Is() to check for these errors.
//
// Resolution itself never returns an error: Avatar() always terminates in
// a valid avatar reference. These errors cover lifecycle and prefetch.
var (
	// ErrCacheRequired is returned when no cache store is configured.
	ErrCacheRequired = errors.New("avatar: cache store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps cache.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("avatar: %w", cache.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps cache.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("avatar: %w", cache.ErrAlreadyConnected)
)

// PluginError wraps errors from plugin operations with the plugin name and
// the operation that failed.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	return fmt.Sprintf("avatar: plugin %s %s: %v", e.Plugin, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PluginError) Unwrap() error {
	return e.Err
}
