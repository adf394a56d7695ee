// Package tagindex maintains the reverse index from tag to cached keys that
// makes bulk invalidation possible without key enumeration by the caller.
//
// Use Local (default) when a single process owns the cached keyspace, or the
// Redis implementation when multiple replicas share a distributed tier and
// must see each other's tag memberships.
//
// The index is best-effort relative to the tier stores: a crash between a
// tier write and Tag can leave a value cached but untagged until its TTL
// expires. Dangling references the other way (tags pointing at keys that
// already expired) are tolerated and cleaned up when the tag is next
// invalidated.
package tagindex

import "context"

// Index is the tag membership store. Membership is many-to-many: one key
// may carry multiple tags and one tag spans many keys.
type Index interface {
	// Tag records key under every tag in tags.
	Tag(ctx context.Context, key string, tags []string) error

	// Keys returns the distinct union of keys across tags. Unknown tags
	// contribute nothing.
	Keys(ctx context.Context, tags []string) ([]string, error)

	// Untag removes key's memberships from every tag it carries. Called on
	// key deletion and expiry.
	Untag(ctx context.Context, key string) error

	// RemoveTags drops the membership rows of the given tags entirely.
	RemoveTags(ctx context.Context, tags []string) error

	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
