package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openlms/tiercache/codec"
	"github.com/openlms/tiercache/internal/wire"
	"github.com/openlms/tiercache/tagindex"
)

const defaultCompressMin = 4096

type engine[V any] struct {
	*invalidator

	codec       codec.Codec[V]
	enabled     bool
	defaultTTL  time.Duration
	compressMin int

	stats *statsMap
	group singleflight.Group

	closeOnce sync.Once
}

func newEngine[V any](opts Options[V]) (*engine[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tiercache: namespace is required")
	}
	if len(opts.Tiers) == 0 {
		return nil, fmt.Errorf("tiercache: at least one tier is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tiercache: codec is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	purger := coalesce[Purger](opts.Purger, NopPurger{})

	index := opts.TagIndex
	if index == nil {
		index = tagindex.NewLocal()
	}

	compressMin := opts.CompressMin
	switch {
	case compressMin == 0:
		compressMin = defaultCompressMin
	case compressMin < 0:
		compressMin = 0
	}

	e := &engine[V]{
		invalidator: &invalidator{
			ns:       opts.Namespace,
			store:    newTierStore(opts.Tiers, log, hooks),
			index:    index,
			purger:   purger,
			log:      log,
			hooks:    hooks,
			cascades: opts.Cascades,
			rules:    make(map[string][]compiledRule),
			timers:   make(map[*time.Timer]struct{}),
		},
		codec:       opts.Codec,
		enabled:     !opts.Disabled,
		defaultTTL:  coalesce[time.Duration](opts.DefaultTTL, 5*time.Minute),
		compressMin: compressMin,
		stats:       newStatsMap(),
	}

	for _, r := range opts.Rules {
		if err := e.registerRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *engine[V]) Enabled() bool { return e.enabled }

func (e *engine[V]) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.invalidator.close()
		_ = e.index.Close(ctx)
		err = e.store.Close(ctx)
	})
	return err
}

func (e *engine[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if !e.enabled {
		return zero, false
	}
	start := time.Now()
	v, ok := e.lookup(ctx, e.storageKey(key), nil, e.defaultTTL)
	e.stats.record(key, ok, time.Since(start))
	if !ok {
		return zero, false
	}
	return v, true
}

func (e *engine[V]) GetOrCompute(ctx context.Context, key string, opts EntryOptions[V], compute func(context.Context) (V, error)) (V, error) {
	var zero V
	if compute == nil {
		return zero, errors.New("tiercache: compute function is required")
	}
	if !e.enabled || (opts.Condition != nil && !opts.Condition()) {
		return compute(ctx)
	}

	start := time.Now()
	k := e.storageKey(key)
	ttl := coalesce[time.Duration](opts.TTL, e.defaultTTL)

	if v, ok := e.lookup(ctx, k, opts.Tiers, ttl); ok {
		e.stats.record(key, true, time.Since(start))
		return v, nil
	}
	e.stats.record(key, false, time.Since(start))

	// Coalesce concurrent misses for the same key onto one computation.
	// A caller abandoning its context does not stop the computation; the
	// write still completes and benefits subsequent callers.
	res, err, shared := e.group.Do(k, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if opts.Unless != nil && opts.Unless(v) {
			return v, nil
		}
		if serr := e.storeValue(ctx, key, k, v, opts, ttl); serr != nil {
			// fail open: the computed value is still correct
			e.log.Warn("store after compute failed", Fields{"key": key, "err": serr})
		}
		return v, nil
	})
	if shared {
		e.hooks.Coalesced(k)
	}
	if err != nil {
		return zero, err
	}
	return res.(V), nil
}

func (e *engine[V]) Set(ctx context.Context, key string, value V, opts EntryOptions[V]) error {
	if !e.enabled {
		return nil
	}
	ttl := coalesce[time.Duration](opts.TTL, e.defaultTTL)
	return e.storeValue(ctx, key, e.storageKey(key), value, opts, ttl)
}

func (e *engine[V]) Warm(ctx context.Context, keys []string, opts EntryOptions[V], compute func(ctx context.Context, key string) (V, error)) (int, error) {
	if !e.enabled || compute == nil {
		return 0, nil
	}
	ttl := coalesce[time.Duration](opts.TTL, e.defaultTTL)

	warmed := 0
	var errs []error
	for _, key := range keys {
		k := e.storageKey(key)
		if _, _, ok := e.store.Get(ctx, k, opts.Tiers, ttl); ok {
			continue // already warm
		}
		v, err := compute(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %q: %w", key, err))
			continue
		}
		if opts.Unless != nil && opts.Unless(v) {
			continue
		}
		if err := e.storeValue(ctx, key, k, v, opts, ttl); err != nil {
			errs = append(errs, fmt.Errorf("warm %q: %w", key, err))
			continue
		}
		warmed++
	}
	return warmed, errors.Join(errs...)
}

func (e *engine[V]) Invalidate(ctx context.Context, keys ...string) (int, error) {
	if !e.enabled {
		return 0, nil
	}
	count := 0
	var failures []ItemError
	for _, key := range keys {
		k := e.storageKey(key)
		if e.store.Delete(ctx, k) {
			count++
		}
		if err := e.index.Untag(ctx, k); err != nil {
			failures = append(failures, ItemError{Item: key, Err: err})
			e.hooks.InvalidationItemError(key, err)
		}
	}
	return count, invalidationError(failures)
}

func (e *engine[V]) InvalidateByPatterns(ctx context.Context, patterns []string) (int, error) {
	if !e.enabled {
		return 0, nil
	}
	return e.invalidateByPatterns(ctx, patterns)
}

func (e *engine[V]) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	if !e.enabled {
		return 0, nil
	}
	return e.invalidateByTags(ctx, tags)
}

func (e *engine[V]) RegisterRule(r Rule) error {
	return e.registerRule(r)
}

func (e *engine[V]) Fire(ctx context.Context, ev Event) {
	if !e.enabled {
		return
	}
	e.fire(ctx, ev)
}

func (e *engine[V]) Stats() map[string]KeyStats { return e.stats.snapshot() }

func (e *engine[V]) StatsFor(key string) (KeyStats, bool) { return e.stats.get(key) }

// lookup reads and decodes one entry. Corrupt frames and undecodable
// payloads self-heal: the entry is deleted everywhere and the read misses.
func (e *engine[V]) lookup(ctx context.Context, storageKey string, tiers []string, promoteTTL time.Duration) (V, bool) {
	var zero V
	raw, _, ok := e.store.Get(ctx, storageKey, tiers, promoteTTL)
	if !ok {
		return zero, false
	}
	ent, err := wire.DecodeEntry(raw)
	if err != nil {
		e.selfHeal(ctx, storageKey, "corrupt")
		return zero, false
	}
	v, err := e.codec.Decode(ent.Payload)
	if err != nil {
		e.selfHeal(ctx, storageKey, "value_decode")
		return zero, false
	}
	return v, true
}

func (e *engine[V]) selfHeal(ctx context.Context, storageKey, reason string) {
	e.store.Delete(ctx, storageKey)
	if err := e.index.Untag(ctx, storageKey); err != nil {
		e.log.Warn("untag during self-heal failed", Fields{"key": storageKey, "err": err})
	}
	e.hooks.SelfHeal(storageKey, reason)
	e.log.Debug("self-healed entry", Fields{"key": storageKey, "reason": reason})
}

// storeValue encodes, frames and writes an entry, then registers its tags.
// Tag registration happens immediately after the write; a failure there is
// a correctness defect (the entry becomes unreachable by tag until TTL) and
// is logged at error level.
func (e *engine[V]) storeValue(ctx context.Context, key, storageKey string, value V, opts EntryOptions[V], ttl time.Duration) error {
	payload, err := e.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	tags := e.usableTags(key, opts.Tags)
	raw, err := wire.EncodeEntry(wire.Entry{
		CreatedAt: time.Now(),
		TTL:       ttl,
		Tags:      tags,
		Payload:   payload,
	}, e.compressMin)
	if err != nil {
		return fmt.Errorf("frame %q: %w", key, err)
	}

	e.store.Set(ctx, storageKey, raw, opts.Tiers, ttl)

	if len(tags) > 0 {
		if terr := e.index.Tag(ctx, storageKey, tags); terr != nil {
			e.hooks.TagRegistrationError(storageKey, terr)
			e.log.Error("tag registration failed; entry unreachable by tag until TTL", Fields{"key": key, "tags": tags, "err": terr})
		}
	}
	return nil
}

// usableTags drops empty tags before framing and registration. An empty tag
// cannot be addressed by any invalidation call, so storing it would only
// poison the frame.
func (e *engine[V]) usableTags(key string, tags []string) []string {
	clean := true
	for _, t := range tags {
		if t == "" {
			clean = false
			break
		}
	}
	if clean {
		return tags
	}
	keep := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			keep = append(keep, t)
		}
	}
	e.log.Warn("ignoring empty tags on entry", Fields{"key": key})
	return keep
}
