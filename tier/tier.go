// Package tier defines the storage abstraction for one cache layer.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no
// prepended/appended metadata, no re-encoding, no mutation). If a store
// performs internal transforms (e.g. compression), they MUST be fully
// reversed so the bytes returned by Get are identical to the bytes provided
// to Set.
//
// Tiers are combined into an ordered list by the engine, conventionally
// fastest/smallest first (process-local) to slowest/largest (shared). Each
// tier owns its TTL and capacity policy independently.
package tier

import (
	"context"
	"time"
)

// Tier is a byte store with TTLs and glob-pattern deletion. Must be safe
// for concurrent use.
type Tier interface {
	// Name identifies the tier for logs, hooks and per-call tier selection.
	Name() string

	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. Returns ok=false when the store
	// rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key, reporting whether it was present.
	Del(ctx context.Context, key string) (existed bool, err error)

	// DeleteByPattern removes every key matching a glob pattern ('*' and
	// '?' wildcards over the engine's key grammar) and returns the keys it
	// removed.
	DeleteByPattern(ctx context.Context, pattern string) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
