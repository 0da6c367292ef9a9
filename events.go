package avatar

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for avatar events.
const (
	EventNameHostUnavailable = "avatar.host.unavailable"
	EventNameAvatarProbed    = "avatar.probed"
)

// HostUnavailableEvent is published when a probe failure marks an avatar
// hostname as unavailable. Until the cache entry expires, every resolution
// against this hostname short-circuits to no result, so operators may want
// to alert on it.
type HostUnavailableEvent struct {
	Hostname string    `json:"hostname"`
	URL      string    `json:"url"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// AvatarProbedEvent is published best-effort after every network probe,
// with the outcome that was cached ("found", "negative",
// "host_unavailable" or "optimistic").
type AvatarProbedEvent struct {
	URL     string    `json:"url"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().HostUnavailable.Subscribe(ctx, handler)
type ServiceEvents struct {
	// HostUnavailable is published when a hostname is marked unavailable.
	HostUnavailable event.Event[HostUnavailableEvent]
	// AvatarProbed is published after every network probe.
	AvatarProbed event.Event[AvatarProbedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		HostUnavailable: event.New[HostUnavailableEvent](namePrefix + "." + EventNameHostUnavailable),
		AvatarProbed:    event.New[AvatarProbedEvent](namePrefix + "." + EventNameAvatarProbed),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.HostUnavailable); err != nil {
		return fmt.Errorf("register HostUnavailable: %w", err)
	}
	if err := event.Register(ctx, bus, events.AvatarProbed); err != nil {
		return fmt.Errorf("register AvatarProbed: %w", err)
	}
	return nil
}
