package tiercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openlms/tiercache/tagindex"
)

// Rule maps a domain trigger to invalidation actions. Patterns and Tags are
// templates over the firing event ({entityType}, {entityId}, {timestamp}),
// compiled at registration time. A rule with Delay fires on a timer; a
// pending firing is lost if the process exits first, which is safe — the
// next mutation re-triggers it.
type Rule struct {
	Trigger  string
	Patterns []string
	Tags     []string
	Delay    time.Duration
	Cascade  bool
}

// Event is a transient domain mutation notice: constructed by the caller,
// dispatched once into the rule engine, discarded.
type Event struct {
	ID         string
	Type       string
	EntityType string
	EntityID   string
	Timestamp  time.Time
}

type compiledRule struct {
	rule     Rule
	patterns []ruleTemplate
	tags     []ruleTemplate
}

// invalidator owns everything invalidation: the rule registry, the manual
// bulk entry points and the cascade/purge fan-out. It is value-type
// agnostic; the generic engine embeds it.
type invalidator struct {
	ns     string
	store  *TierStore
	index  tagindex.Index
	purger Purger
	log    Logger
	hooks  Hooks

	// cascades is the static relationship map: firing entity type to the
	// dependent entity types whose "entity:<Type>" tag groups are also
	// invalidated when a cascading rule fires.
	cascades map[string][]string

	// copy-on-write: fire reads a snapshot slice without holding the lock
	// while invalidating.
	ruleMu sync.RWMutex
	rules  map[string][]compiledRule

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func (i *invalidator) storageKey(key string) string { return i.ns + ":" + key }

// registerRule compiles and appends the rule. Multiple rules may share a
// trigger; all fire independently.
func (i *invalidator) registerRule(r Rule) error {
	if r.Trigger == "" {
		return fmt.Errorf("tiercache: rule trigger is required")
	}
	if len(r.Patterns) == 0 && len(r.Tags) == 0 && !r.Cascade {
		return fmt.Errorf("tiercache: rule %q has no invalidation action", r.Trigger)
	}
	cr := compiledRule{rule: r}
	for _, p := range r.Patterns {
		t, err := parseRuleTemplate(p)
		if err != nil {
			return fmt.Errorf("tiercache: rule %q pattern: %w", r.Trigger, err)
		}
		cr.patterns = append(cr.patterns, t)
	}
	for _, tag := range r.Tags {
		t, err := parseRuleTemplate(tag)
		if err != nil {
			return fmt.Errorf("tiercache: rule %q tag: %w", r.Trigger, err)
		}
		cr.tags = append(cr.tags, t)
	}

	i.ruleMu.Lock()
	next := make([]compiledRule, 0, len(i.rules[r.Trigger])+1)
	next = append(next, i.rules[r.Trigger]...)
	next = append(next, cr)
	i.rules[r.Trigger] = next
	i.ruleMu.Unlock()
	return nil
}

// fire dispatches an event to every rule registered under its type.
// Delayed rules are scheduled on independent timers; immediate rules run
// inline on the caller's goroutine.
func (i *invalidator) fire(ctx context.Context, ev Event) {
	i.ruleMu.RLock()
	rules := i.rules[ev.Type]
	i.ruleMu.RUnlock()

	for _, cr := range rules {
		if cr.rule.Delay > 0 {
			i.schedule(cr, ev)
			continue
		}
		i.fireRule(ctx, cr, ev)
	}
}

func (i *invalidator) schedule(cr compiledRule, ev Event) {
	i.timerMu.Lock()
	defer i.timerMu.Unlock()
	if i.closed {
		return
	}
	i.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(cr.rule.Delay, func() {
		defer i.wg.Done()
		i.timerMu.Lock()
		delete(i.timers, t)
		gone := i.closed
		i.timerMu.Unlock()
		if gone {
			return
		}
		i.fireRule(context.Background(), cr, ev)
	})
	i.timers[t] = struct{}{}
}

// fireRule expands templates and issues the invalidation. Any expansion
// error skips this firing only; other rules for the trigger still run.
func (i *invalidator) fireRule(ctx context.Context, cr compiledRule, ev Event) {
	patterns := make([]string, 0, len(cr.patterns))
	for _, t := range cr.patterns {
		s, err := t.expand(ev)
		if err != nil {
			i.hooks.RuleExpansionError(cr.rule.Trigger, t.raw, err)
			i.log.Warn("rule expansion failed; skipping firing", Fields{"trigger": cr.rule.Trigger, "template": t.raw, "err": err})
			return
		}
		patterns = append(patterns, s)
	}
	tags := make([]string, 0, len(cr.tags))
	for _, t := range cr.tags {
		s, err := t.expand(ev)
		if err != nil {
			i.hooks.RuleExpansionError(cr.rule.Trigger, t.raw, err)
			i.log.Warn("rule expansion failed; skipping firing", Fields{"trigger": cr.rule.Trigger, "template": t.raw, "err": err})
			return
		}
		tags = append(tags, s)
	}

	if len(patterns) > 0 {
		if n, err := i.invalidateByPatterns(ctx, patterns); err != nil {
			i.log.Warn("rule pattern invalidation partial failure", Fields{"trigger": cr.rule.Trigger, "removed": n, "err": err})
		}
	}
	if len(tags) > 0 {
		if n, err := i.invalidateByTags(ctx, tags); err != nil {
			i.log.Warn("rule tag invalidation partial failure", Fields{"trigger": cr.rule.Trigger, "removed": n, "err": err})
		}
	}
	if cr.rule.Cascade {
		i.cascade(ctx, ev)
	}
}

// cascade invalidates the tag groups of entity types dependent on the
// firing one, per the static relationship map, and notifies the purge
// collaborator best-effort.
func (i *invalidator) cascade(ctx context.Context, ev Event) {
	deps := i.cascades[ev.EntityType]
	if len(deps) == 0 {
		return
	}
	tags := make([]string, len(deps))
	for n, d := range deps {
		tags[n] = "entity:" + d
	}
	if n, err := i.invalidateByTags(ctx, tags); err != nil {
		i.log.Warn("cascade invalidation partial failure", Fields{"entityType": ev.EntityType, "removed": n, "err": err})
	}
	if err := i.purger.PurgeByTags(ctx, tags); err != nil {
		i.hooks.PurgeError(err)
		i.log.Warn("cdn purge failed", Fields{"tags": tags, "err": err})
	}
}

// invalidateByPatterns removes every key matching each pattern across all
// tiers. One failing pattern never stops the rest; failures accumulate into
// the returned error. Returns the count of distinct keys removed.
func (i *invalidator) invalidateByPatterns(ctx context.Context, patterns []string) (int, error) {
	seen := make(map[string]struct{})
	var failures []ItemError
	for _, p := range patterns {
		keys, err := i.store.DeleteByPattern(ctx, i.storageKey(p))
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if uerr := i.index.Untag(ctx, k); uerr != nil {
				failures = append(failures, ItemError{Item: k, Err: uerr})
				i.hooks.InvalidationItemError(k, uerr)
			}
		}
		if err != nil {
			failures = append(failures, ItemError{Item: p, Err: err})
			i.hooks.InvalidationItemError(p, err)
		}
	}
	return len(seen), invalidationError(failures)
}

// invalidateByTags resolves each tag to its key set, deletes the keys and
// drops the membership rows. Keys shared by multiple listed tags count
// once; only keys that were still present in some tier count at all, which
// lazily reconciles memberships left dangling by TTL expiry.
func (i *invalidator) invalidateByTags(ctx context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	keys, err := i.index.Keys(ctx, tags)
	if err != nil {
		i.log.Warn("tag index lookup failed", Fields{"tags": tags, "err": err})
		return 0, invalidationError([]ItemError{{Item: fmt.Sprint(tags), Err: err}})
	}

	count := 0
	var failures []ItemError
	for _, k := range keys {
		if i.store.Delete(ctx, k) {
			count++
		}
		if uerr := i.index.Untag(ctx, k); uerr != nil {
			failures = append(failures, ItemError{Item: k, Err: uerr})
			i.hooks.InvalidationItemError(k, uerr)
		}
	}
	if rerr := i.index.RemoveTags(ctx, tags); rerr != nil {
		failures = append(failures, ItemError{Item: fmt.Sprint(tags), Err: rerr})
		i.hooks.InvalidationItemError(fmt.Sprint(tags), rerr)
	}
	return count, invalidationError(failures)
}

// close stops pending delayed firings and waits for in-flight ones.
func (i *invalidator) close() {
	i.timerMu.Lock()
	i.closed = true
	for t := range i.timers {
		if t.Stop() {
			i.wg.Done()
		}
		delete(i.timers, t)
	}
	i.timerMu.Unlock()
	i.wg.Wait()
}
