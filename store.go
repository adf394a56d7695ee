package tiercache

import (
	"context"
	"errors"
	"time"

	"github.com/openlms/tiercache/tier"
)

// TierStore fans get/set/delete out over an ordered list of tiers, fastest
// first. Every tier fault is degraded, never propagated: a failing tier is
// a miss on read and a skipped write on set. The engine above decides what
// bytes go in; the store only moves them.
type TierStore struct {
	tiers []tier.Tier
	log   Logger
	hooks Hooks
}

func newTierStore(tiers []tier.Tier, log Logger, hooks Hooks) *TierStore {
	return &TierStore{tiers: tiers, log: log, hooks: hooks}
}

// selectTiers maps requested tier names onto the configured order. nil
// requests every tier. Unknown names are ignored.
func (s *TierStore) selectTiers(names []string) []tier.Tier {
	if names == nil {
		return s.tiers
	}
	out := make([]tier.Tier, 0, len(names))
	for _, t := range s.tiers {
		for _, n := range names {
			if t.Name() == n {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Get tries the selected tiers in order and short-circuits on the first
// hit. A hit on a slower tier is written through to every faster tier with
// promoteTTL so subsequent lookups stop earlier.
func (s *TierStore) Get(ctx context.Context, key string, names []string, promoteTTL time.Duration) ([]byte, string, bool) {
	selected := s.selectTiers(names)
	for i, t := range selected {
		raw, ok, err := t.Get(ctx, key)
		if err != nil {
			s.log.Warn("tier get failed; treating as miss", Fields{"tier": t.Name(), "key": key, "err": err})
			s.hooks.TierError(t.Name(), "get", err)
			continue
		}
		if !ok {
			continue
		}
		for _, faster := range selected[:i] {
			if ok, err := faster.Set(ctx, key, raw, promoteTTL); err != nil {
				s.log.Warn("tier promotion failed", Fields{"tier": faster.Name(), "key": key, "err": err})
				s.hooks.TierError(faster.Name(), "set", err)
			} else if !ok {
				s.hooks.TierSetRejected(faster.Name(), key)
			}
		}
		return raw, t.Name(), true
	}
	return nil, "", false
}

// Set writes to every selected tier. A failure on one tier does not roll
// back successful writes to others; it is logged and skipped. Returns the
// number of tiers written.
func (s *TierStore) Set(ctx context.Context, key string, raw []byte, names []string, ttl time.Duration) int {
	written := 0
	for _, t := range s.selectTiers(names) {
		ok, err := t.Set(ctx, key, raw, ttl)
		if err != nil {
			s.log.Warn("tier set failed; skipping tier", Fields{"tier": t.Name(), "key": key, "err": err})
			s.hooks.TierError(t.Name(), "set", err)
			continue
		}
		if !ok {
			s.hooks.TierSetRejected(t.Name(), key)
			continue
		}
		written++
	}
	return written
}

// Delete removes the key from every tier, reporting whether any tier held
// it. Invalidating an already-absent key is not an error.
func (s *TierStore) Delete(ctx context.Context, key string) bool {
	existed := false
	for _, t := range s.tiers {
		had, err := t.Del(ctx, key)
		if err != nil {
			s.log.Warn("tier delete failed", Fields{"tier": t.Name(), "key": key, "err": err})
			s.hooks.TierError(t.Name(), "del", err)
			continue
		}
		existed = existed || had
	}
	return existed
}

// DeleteByPattern removes matching keys from every tier and returns the
// distinct union of keys removed. Per-tier failures are joined into the
// returned error; keys removed from healthy tiers still count.
func (s *TierStore) DeleteByPattern(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var distinct []string
	var errs []error
	for _, t := range s.tiers {
		keys, err := t.DeleteByPattern(ctx, pattern)
		if err != nil {
			s.log.Warn("tier pattern delete failed", Fields{"tier": t.Name(), "pattern": pattern, "err": err})
			s.hooks.TierError(t.Name(), "delete_pattern", err)
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			distinct = append(distinct, k)
		}
	}
	return distinct, errors.Join(errs...)
}

// Close closes every tier, returning the first error.
func (s *TierStore) Close(ctx context.Context) error {
	var first error
	for _, t := range s.tiers {
		if err := t.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
