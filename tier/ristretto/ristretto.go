// Package ristretto adapts dgraph-io/ristretto as a process-local tier.
//
// Ristretto cannot enumerate its keys, so the tier maintains a side registry
// of keys it has written; DeleteByPattern matches against the registry. The
// registry may briefly retain keys ristretto has already evicted — pattern
// deletion then issues harmless no-op Dels.
package ristretto

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/openlms/tiercache/tier"
)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

type Tier struct {
	c *rc.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

var _ tier.Tier = (*Tier)(nil)

func New(cfg Config) (*Tier, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Tier{c: c, keys: make(map[string]struct{})}, nil
}

func (t *Tier) Name() string { return "ristretto" }

func (t *Tier) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := t.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		t.c.Del(key)
		t.forget(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (t *Tier) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok := t.c.SetWithTTL(key, value, int64(len(value)), ttl)
	if ok {
		t.mu.Lock()
		t.keys[key] = struct{}{}
		t.mu.Unlock()
	}
	return ok, nil
}

func (t *Tier) Del(_ context.Context, key string) (bool, error) {
	_, existed := t.c.Get(key)
	t.c.Del(key)
	t.forget(key)
	return existed, nil
}

func (t *Tier) DeleteByPattern(_ context.Context, pattern string) ([]string, error) {
	t.mu.Lock()
	var matched []string
	for k := range t.keys {
		ok, err := path.Match(pattern, k)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		if ok {
			matched = append(matched, k)
			delete(t.keys, k)
		}
	}
	t.mu.Unlock()

	deleted := matched[:0]
	for _, k := range matched {
		if _, present := t.c.Get(k); present {
			deleted = append(deleted, k)
		}
		t.c.Del(k)
	}
	return deleted, nil
}

func (t *Tier) Close(_ context.Context) error {
	t.c.Wait()
	t.c.Close()
	return nil
}

// Metrics exposes ristretto's own counters for applications that want them;
// not part of the tier contract.
func (t *Tier) Metrics() *rc.Metrics { return t.c.Metrics }

func (t *Tier) forget(key string) {
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
}
