// Package memory implements an in-process tier with LRU eviction and
// per-entry TTLs. It is the only bundled tier that can report evictions and
// expiries back to the engine, which uses the callback to keep the tag
// index free of dangling references.
package memory

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/openlms/tiercache/tier"
)

// EvictFunc is invoked after a key leaves the tier without an explicit Del:
// LRU capacity eviction or TTL expiry. Called without the tier lock held.
type EvictFunc func(key string)

type Config struct {
	MaxEntries      int           // capacity bound; 0 => 10000
	CleanupInterval time.Duration // expired-entry sweep; 0 => 1m, <0 disables
	OnEvict         EvictFunc     // optional
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero => no TTL
	element   *list.Element
}

// Tier is an LRU byte store. All operations are O(1) except
// DeleteByPattern, which scans the key set.
type Tier struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used

	capacity int
	onEvict  EvictFunc

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ tier.Tier = (*Tier)(nil)

func New(cfg Config) *Tier {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	t := &Tier{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity: cfg.MaxEntries,
		onEvict:  cfg.OnEvict,
	}
	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = time.Minute
	}
	if interval > 0 {
		t.ticker = time.NewTicker(interval)
		t.stopCh = make(chan struct{})
		t.wg.Add(1)
		go t.cleanupLoop()
	}
	return t
}

func (t *Tier) Name() string { return "memory" }

func (t *Tier) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		t.remove(e)
		t.mu.Unlock()
		t.notify(key)
		return nil, false, nil
	}
	t.order.MoveToFront(e.element)
	v := e.value
	t.mu.Unlock()
	return v, true, nil
}

func (t *Tier) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		e.value = value
		e.expiresAt = expires
		t.order.MoveToFront(e.element)
		t.mu.Unlock()
		return true, nil
	}

	e := &entry{key: key, value: value, expiresAt: expires}
	e.element = t.order.PushFront(e)
	t.entries[key] = e

	var evicted string
	if t.order.Len() > t.capacity {
		if back := t.order.Back(); back != nil {
			victim := back.Value.(*entry)
			t.remove(victim)
			evicted = victim.key
		}
	}
	t.mu.Unlock()

	if evicted != "" {
		t.notify(evicted)
	}
	return true, nil
}

func (t *Tier) Del(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		t.remove(e)
	}
	t.mu.Unlock()
	return ok, nil
}

func (t *Tier) DeleteByPattern(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()

	t.mu.Lock()
	var deleted []string
	for k, e := range t.entries {
		matched, err := path.Match(pattern, k)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		if !matched {
			continue
		}
		// Already-expired entries are dropped but not counted; they were
		// no longer observable hits.
		live := !e.expired(now)
		t.remove(e)
		if live {
			deleted = append(deleted, k)
		}
	}
	t.mu.Unlock()
	return deleted, nil
}

func (t *Tier) Close(_ context.Context) error {
	t.once.Do(func() {
		if t.stopCh != nil {
			close(t.stopCh)
			t.ticker.Stop()
			t.wg.Wait()
		}
	})
	return nil
}

// Len reports the current number of entries (expired-but-unswept included).
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// remove must be called with t.mu held.
func (t *Tier) remove(e *entry) {
	t.order.Remove(e.element)
	delete(t.entries, e.key)
}

func (t *Tier) notify(key string) {
	if t.onEvict != nil {
		t.onEvict(key)
	}
}

func (t *Tier) cleanupLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.sweep()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tier) sweep() {
	now := time.Now()

	t.mu.Lock()
	var expired []string
	for k, e := range t.entries {
		if e.expired(now) {
			t.remove(e)
			expired = append(expired, k)
		}
	}
	t.mu.Unlock()

	for _, k := range expired {
		t.notify(k)
	}
}
