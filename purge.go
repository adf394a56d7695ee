package tiercache

import "context"

// Purger is the downstream CDN/static-asset purge collaborator. Rule
// cascades notify it as an additional invalidation target. Every call is
// best-effort: failures are reported through Hooks.PurgeError and logged,
// never propagated to the invalidation flow.
type Purger interface {
	PurgeByURLs(ctx context.Context, urls []string) error
	PurgeByTags(ctx context.Context, tags []string) error
	PurgeAll(ctx context.Context) error
}

// NopPurger is the default when no CDN integration is configured.
type NopPurger struct{}

func (NopPurger) PurgeByURLs(context.Context, []string) error { return nil }
func (NopPurger) PurgeByTags(context.Context, []string) error { return nil }
func (NopPurger) PurgeAll(context.Context) error              { return nil }
