package tiercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openlms/tiercache/tagindex"
	"github.com/openlms/tiercache/tier"
)

type recordingPurger struct {
	mu   sync.Mutex
	tags [][]string
}

func (p *recordingPurger) PurgeByURLs(context.Context, []string) error { return nil }
func (p *recordingPurger) PurgeAll(context.Context) error              { return nil }
func (p *recordingPurger) PurgeByTags(_ context.Context, tags []string) error {
	p.mu.Lock()
	p.tags = append(p.tags, tags)
	p.mu.Unlock()
	return nil
}

// TestCascadeScenario runs the canonical flow: a course update removes the
// course's own pattern-matched keys, its tag group, and the dependent
// Lesson/Assessment tag groups, and the purge collaborator is notified.
func TestCascadeScenario(t *testing.T) {
	ctx := context.Background()
	mt := newMemTier("local")
	purger := &recordingPurger{}
	cc := newTestCache(t, []tier.Tier{mt}, func(o *Options[course]) {
		o.Purger = purger
		o.Rules = []Rule{{
			Trigger:  "course_updated",
			Patterns: []string{"course:{entityId}*"},
			Tags:     []string{"course_data"},
			Cascade:  true,
		}}
		o.Cascades = map[string][]string{
			"Course": {"Lesson", "Assessment", "Enrollment"},
		}
	})
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "course:123:detail", EntryOptions[course]{
		Tags: []string{"course_data", "entity:Course"},
	}, computeCourse("123", "Intro", &calls))
	cc.GetOrCompute(ctx, "lesson:55:detail", EntryOptions[course]{
		Tags: []string{"entity:Lesson"},
	}, computeCourse("55", "Lesson", &calls))
	cc.GetOrCompute(ctx, "course:999:detail", EntryOptions[course]{
		Tags: []string{"course_data"},
	}, computeCourse("999", "Other", &calls))

	cc.Fire(ctx, Event{Type: "course_updated", EntityType: "Course", EntityID: "123", Timestamp: time.Now()})

	if _, ok := cc.Get(ctx, "course:123:detail"); ok {
		t.Fatalf("pattern-matched key should be gone")
	}
	if _, ok := cc.Get(ctx, "lesson:55:detail"); ok {
		t.Fatalf("cascaded entity:Lesson key should be gone")
	}
	// course:999 was removed via the course_data tag, not the pattern.
	if _, ok := cc.Get(ctx, "course:999:detail"); ok {
		t.Fatalf("tag-matched key should be gone")
	}

	// Next access recomputes.
	before := atomic.LoadInt32(&calls)
	cc.GetOrCompute(ctx, "course:123:detail", EntryOptions[course]{}, computeCourse("123", "Intro", &calls))
	if atomic.LoadInt32(&calls) != before+1 {
		t.Fatalf("expected recomputation after invalidation")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	if len(purger.tags) != 1 || len(purger.tags[0]) != 3 {
		t.Fatalf("cascade should purge dependent tag groups once: %v", purger.tags)
	}
}

func TestFireUnknownTriggerIsNoop(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, nil)
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "k", EntryOptions[course]{Tags: []string{"t"}}, computeCourse("1", "x", &calls))
	cc.Fire(ctx, Event{Type: "nobody_listens", EntityType: "X", EntityID: "1"})
	if _, ok := cc.Get(ctx, "k"); !ok {
		t.Fatalf("unrelated event must not invalidate")
	}
}

func TestMultipleRulesPerTrigger(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, nil)
	defer cc.Close(ctx)

	if err := cc.RegisterRule(Rule{Trigger: "user_updated", Patterns: []string{"profile:{entityId}*"}}); err != nil {
		t.Fatalf("RegisterRule: %v", err)
	}
	if err := cc.RegisterRule(Rule{Trigger: "user_updated", Tags: []string{"user_data"}}); err != nil {
		t.Fatalf("RegisterRule: %v", err)
	}

	var calls int32
	cc.GetOrCompute(ctx, "profile:7:summary", EntryOptions[course]{}, computeCourse("7", "p", &calls))
	cc.GetOrCompute(ctx, "dashboard:7", EntryOptions[course]{Tags: []string{"user_data"}}, computeCourse("7", "d", &calls))

	cc.Fire(ctx, Event{Type: "user_updated", EntityType: "User", EntityID: "7"})

	if _, ok := cc.Get(ctx, "profile:7:summary"); ok {
		t.Fatalf("first rule should have fired")
	}
	if _, ok := cc.Get(ctx, "dashboard:7"); ok {
		t.Fatalf("second rule should have fired independently")
	}
}

func TestDelayedRule(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, func(o *Options[course]) {
		o.Rules = []Rule{{
			Trigger:  "course_updated",
			Patterns: []string{"course:{entityId}*"},
			Delay:    20 * time.Millisecond,
		}}
	})
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "course:1:detail", EntryOptions[course]{}, computeCourse("1", "x", &calls))

	cc.Fire(ctx, Event{Type: "course_updated", EntityType: "Course", EntityID: "1"})

	// Still cached before the delay elapses.
	if _, ok := cc.Get(ctx, "course:1:detail"); !ok {
		t.Fatalf("delayed rule must not fire immediately")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := cc.Get(ctx, "course:1:detail"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delayed rule never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegisterRuleValidation(t *testing.T) {
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, nil)
	defer cc.Close(context.Background())

	if err := cc.RegisterRule(Rule{Patterns: []string{"x*"}}); err == nil {
		t.Fatalf("missing trigger should be rejected")
	}
	if err := cc.RegisterRule(Rule{Trigger: "t"}); err == nil {
		t.Fatalf("rule without any action should be rejected")
	}
	if err := cc.RegisterRule(Rule{Trigger: "t", Patterns: []string{"a:{bogus}"}}); err == nil {
		t.Fatalf("unknown placeholder should be rejected at registration")
	}
}

func TestExpansionErrorSkipsOnlyThatRule(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, func(o *Options[course]) {
		o.Rules = []Rule{
			{Trigger: "evt", Patterns: []string{"a:{entityId}*"}}, // needs EntityID: will fail to expand
			{Trigger: "evt", Tags: []string{"group_a"}},
		}
	})
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "a:1:x", EntryOptions[course]{}, computeCourse("1", "x", &calls))
	cc.GetOrCompute(ctx, "b:1:x", EntryOptions[course]{Tags: []string{"group_a"}}, computeCourse("1", "x", &calls))

	// Event without EntityID: first rule's expansion fails and is skipped,
	// second rule still fires.
	cc.Fire(ctx, Event{Type: "evt", EntityType: "A"})

	if _, ok := cc.Get(ctx, "a:1:x"); !ok {
		t.Fatalf("rule with failed expansion must not invalidate anything")
	}
	if _, ok := cc.Get(ctx, "b:1:x"); ok {
		t.Fatalf("healthy rule for the same trigger must still fire")
	}
}

// ==============================
// Manual bulk entry points
// ==============================

func TestInvalidateByTagsCounts(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, nil)
	defer cc.Close(ctx)

	var calls int32
	// One key under both tags: must count once.
	cc.GetOrCompute(ctx, "k1", EntryOptions[course]{Tags: []string{"a", "b"}}, computeCourse("1", "x", &calls))
	cc.GetOrCompute(ctx, "k2", EntryOptions[course]{Tags: []string{"b"}}, computeCourse("2", "y", &calls))

	n, err := cc.InvalidateByTags(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 distinct keys removed, got %d", n)
	}

	// Idempotent: everything already gone.
	n, err = cc.InvalidateByTags(ctx, []string{"a", "b"})
	if err != nil || n != 0 {
		t.Fatalf("second invalidation should be a zero-count no-op: n=%d err=%v", n, err)
	}
}

func TestInvalidateByPatternsCounts(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, []tier.Tier{newMemTier("local")}, nil)
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "course:1:a", EntryOptions[course]{}, computeCourse("1", "x", &calls))
	cc.GetOrCompute(ctx, "course:1:b", EntryOptions[course]{}, computeCourse("1", "y", &calls))
	cc.GetOrCompute(ctx, "course:2:a", EntryOptions[course]{}, computeCourse("2", "z", &calls))

	n, err := cc.InvalidateByPatterns(ctx, []string{"course:1*"})
	if err != nil || n != 2 {
		t.Fatalf("pattern removal: n=%d err=%v", n, err)
	}
	if _, ok := cc.Get(ctx, "course:2:a"); !ok {
		t.Fatalf("non-matching key must survive")
	}

	n, err = cc.InvalidateByPatterns(ctx, []string{"course:1*"})
	if err != nil || n != 0 {
		t.Fatalf("idempotent pattern removal: n=%d err=%v", n, err)
	}
}

func TestTagConsistencyAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	mt := newMemTier("local")
	cc := newTestCache(t, []tier.Tier{mt}, nil)
	defer cc.Close(ctx)

	impl := mustImpl(t, cc)
	var calls int32
	cc.GetOrCompute(ctx, "k", EntryOptions[course]{Tags: []string{"g"}}, computeCourse("1", "x", &calls))

	if n, _ := cc.InvalidateByTags(ctx, []string{"g"}); n != 1 {
		t.Fatalf("expected one key removed")
	}

	// Membership rows are gone: re-invalidating resolves no keys even if a
	// new value lands under the same key without the tag.
	cc.GetOrCompute(ctx, "k", EntryOptions[course]{}, computeCourse("1", "x", &calls))
	keys, err := impl.index.Keys(ctx, []string{"g"})
	if err != nil || len(keys) != 0 {
		t.Fatalf("tag should have no members after invalidation: %v %v", keys, err)
	}
}

// untagFailIndex simulates an index whose membership cleanup is down while
// lookups and writes still work.
type untagFailIndex struct {
	tagindex.Index
	err error
}

func (i untagFailIndex) Untag(context.Context, string) error { return i.err }

func TestInvalidateByPatternsReportsUntagFailures(t *testing.T) {
	ctx := context.Background()
	mt := newMemTier("local")
	idxErr := errors.New("index down")
	cc := newTestCache(t, []tier.Tier{mt}, func(o *Options[course]) {
		o.TagIndex = untagFailIndex{Index: tagindex.NewLocal(), err: idxErr}
	})
	defer cc.Close(ctx)

	var calls int32
	cc.GetOrCompute(ctx, "course:123:detail", EntryOptions[course]{Tags: []string{"course_data"}}, computeCourse("123", "Intro", &calls))

	n, err := cc.InvalidateByPatterns(ctx, []string{"course:123*"})
	if n != 1 {
		t.Fatalf("deleted key should still count, got %d", n)
	}
	var inv *InvalidationError
	if !errors.As(err, &inv) {
		t.Fatalf("expected an InvalidationError, got %v", err)
	}
	if len(inv.Failures) != 1 || !errors.Is(inv.Failures[0].Err, idxErr) {
		t.Fatalf("unexpected failure detail: %+v", inv.Failures)
	}
	if mt.has("lms:course:123:detail") {
		t.Fatalf("tier deletion must not be rolled back by the index failure")
	}
}
