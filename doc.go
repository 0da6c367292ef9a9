// Package avatar resolves display avatars for users according to a
// per-tenant ordered list of avatar modes.
//
// A tenant's policy is a comma-separated string of mode descriptors, tried
// in order until one yields a result:
//
//   - "none": the configured default static asset
//   - "initials": a generated SVG with the user's initials, as a data URI
//   - "gravatar": a Gravatar lookup by email hash
//   - "attributes.<path>": a dotted path into the user's attribute map
//   - any descriptor containing "://": a URL template with %(username)s,
//     %(mail_hash)s and %(upn)s placeholders
//
// Resolution always produces a result: unknown descriptors are skipped and
// an exhausted policy falls back to the none mode.
//
// # Basic Usage
//
//	// In-memory cache store for testing
//	store := memory.New()
//
//	svc, err := avatar.NewService(
//	    avatar.WithCache(store),
//	    avatar.WithTenant(avatar.TenantInfo{AvatarModes: "gravatar,initials"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	url := svc.Avatar(ctx, user) // never empty
//
// # URL Probing and the Availability Cache
//
// URL-based modes (gravatar and URL templates) verify that the remote host
// actually serves an image before returning its URL, using a bounded HEAD
// probe. Outcomes are cached for eight hours under two keys per hostname:
// a per-recipient image entry and a hostname availability entry. Timeouts,
// connection failures and HTTP error statuses mark the whole hostname
// unavailable, so one dead avatar server cannot slow down every resolution
// that references it.
//
// # Batch Prefetching
//
// When rendering a list of users, prefetch the cache entries for all of
// them in one bulk read:
//
//	ctx, release, err := svc.Prefetch(ctx, users)
//	if err != nil {
//	    // fall back to per-user resolution
//	}
//	defer release()
//
//	for _, u := range users {
//	    avatars = append(avatars, svc.Avatar(ctx, u))
//	}
//
// Resolutions through the returned context are served from the prefetched
// entries instead of issuing per-user cache reads. The release function
// must be called when the scope ends; leaked scopes are reported at Close.
//
// # Cache Backends
//
// The cache package provides implementations for:
//   - Redis (cache/redis) - accepts redis.UniversalClient
//   - PostgreSQL (cache/postgres) - accepts *sqlx.DB or *sql.DB
//   - MongoDB (cache/mongo) - accepts *mongo.Client
//   - In-memory (cache/memory) - for testing
//
// # Events
//
// The service publishes typed events using the github.com/rbaliyan/event/v3
// library. Pass WithRedisClient or WithEventTransport to use a real
// transport; the default is in-process only:
//
//	svc.Events().HostUnavailable.Subscribe(ctx, handler)
package avatar
