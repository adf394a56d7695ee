// Package tiercache implements a tiered cache with tag-based, rule-driven
// invalidation. Values flow through an ordered list of tiers (process-local
// first, shared/distributed last) with write-through promotion on slow-tier
// hits; a reverse tag index enables bulk invalidation without key
// enumeration; a rule engine maps domain events to pattern, tag and
// cascading invalidation, optionally delayed.
//
// Components:
//   - keys: deterministic key derivation from a call context.
//   - tier: byte stores with TTL (memory LRU, Ristretto, BigCache, Redis).
//   - tagindex: tag -> key-set reverse index (local or Redis).
//   - codec: (de)serializes V <-> []byte.
//   - Cache[V]: the facade — GetOrCompute, Invalidate, Warm, Fire.
//
// The engine fails open: any tier or index fault degrades to "cache absent"
// and the caller's compute function serves the live value. Concurrent
// misses for one key are coalesced onto a single computation.
//
// Typical flow:
//
//	key := keys.Resolve("course:{courseId}:detail", cctx, keys.Options{})
//	v, err := cache.GetOrCompute(ctx, key, tiercache.EntryOptions[Course]{
//	    TTL:  10 * time.Minute,
//	    Tags: []string{"course_data", "entity:Course"},
//	}, loadCourse)
//	...
//	cache.Fire(ctx, tiercache.Event{Type: "course_updated", EntityType: "Course", EntityID: id})
package tiercache
