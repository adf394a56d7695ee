package tiercache

import (
	"context"
	"time"

	"github.com/openlms/tiercache/codec"
	"github.com/openlms/tiercache/tagindex"
	"github.com/openlms/tiercache/tier"
)

// Cache is the high-level caching facade consumed by handlers and services.
// V is the caller's value type; serialization is handled by a pluggable
// Codec[V].
//
// Nothing here is ever fatal to the calling request: any internal cache
// fault is indistinguishable from a miss (higher latency, never an error
// response). Errors returned by GetOrCompute come from the caller's compute
// function only.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the cached value for key, or a miss. Tier faults and
	// corrupt entries read as misses.
	Get(ctx context.Context, key string) (V, bool)

	// GetOrCompute returns the cached value or invokes compute on miss,
	// storing the result across the requested tiers and registering its
	// tags. Concurrent misses for the same key are coalesced onto a single
	// computation.
	GetOrCompute(ctx context.Context, key string, opts EntryOptions[V], compute func(context.Context) (V, error)) (V, error)

	// Set stores a value without a read-through.
	Set(ctx context.Context, key string, value V, opts EntryOptions[V]) error

	// Warm computes and stores values for keys not already cached, one
	// compute call per cold key. Returns the number of keys warmed; per-key
	// failures are joined into the error and do not stop the rest.
	Warm(ctx context.Context, keys []string, opts EntryOptions[V], compute func(ctx context.Context, key string) (V, error)) (int, error)

	// Invalidate removes the given keys. Absent keys are not an error and
	// do not count.
	Invalidate(ctx context.Context, keys ...string) (int, error)

	// InvalidateByPatterns removes every key matching the glob patterns.
	// Returns the count of distinct keys removed.
	InvalidateByPatterns(ctx context.Context, patterns []string) (int, error)

	// InvalidateByTags removes every key carrying any of the tags. Keys
	// under multiple listed tags count once.
	InvalidateByTags(ctx context.Context, tags []string) (int, error)

	// RegisterRule adds an invalidation rule at runtime. Rules provided in
	// Options are registered at construction.
	RegisterRule(r Rule) error

	// Fire dispatches a domain event to all rules registered under its
	// type. Immediate rules run inline; delayed rules run on timers.
	Fire(ctx context.Context, ev Event)

	// Stats snapshots per-key hit/miss/latency counters.
	Stats() map[string]KeyStats
	StatsFor(key string) (KeyStats, bool)
}

// EntryOptions tune one cache write (and the read-through that precedes it).
type EntryOptions[V any] struct {
	// TTL for the stored entry; 0 => the engine's DefaultTTL.
	TTL time.Duration

	// Tags to register in the tag index at write time.
	Tags []string

	// Tiers selects a subset of the configured tiers by name, in the
	// configured order. nil => all tiers.
	Tiers []string

	// Condition, when set and false, bypasses the cache entirely for this
	// call: compute runs and nothing is read or stored.
	Condition func() bool

	// Unless, when set and true for a computed result, skips storage and
	// returns the raw result (e.g. "do not cache empty results").
	Unless func(V) bool
}

// Options configure an engine. Namespace, Tiers and Codec are required;
// everything else has defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace isolating this engine's keyspace
	Tiers     []tier.Tier
	Codec     codec.Codec[V]

	TagIndex tagindex.Index // nil => in-process index
	Logger   Logger         // nil => NopLogger
	Hooks    Hooks          // nil => NopHooks
	Purger   Purger         // nil => NopPurger

	DefaultTTL time.Duration // 0 => 5m

	// CompressMin is the payload size in bytes at which values are
	// gzip-compressed before storage. 0 => 4096; negative disables.
	CompressMin int

	Rules    []Rule
	Cascades map[string][]string // entityType -> dependent entity types

	Disabled bool // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newEngine[V](opts)
}
