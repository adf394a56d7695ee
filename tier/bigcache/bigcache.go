// Package bigcache adapts allegro/bigcache as a process-local tier.
// BigCache has no per-entry TTL; the global LifeWindow applies to every
// entry, so the tier ignores per-write TTLs.
package bigcache

import (
	"context"
	"path"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/openlms/tiercache/tier"
)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Tier struct {
	c *bc.BigCache
}

var _ tier.Tier = (*Tier)(nil)

func New(cfg Config) (*Tier, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Tier{c: c}, nil
}

func (t *Tier) Name() string { return "bigcache" }

func (t *Tier) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := t.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (t *Tier) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	return true, t.c.Set(key, value)
}

func (t *Tier) Del(_ context.Context, key string) (bool, error) {
	err := t.c.Delete(key)
	if err == bc.ErrEntryNotFound {
		return false, nil
	}
	return err == nil, err
}

func (t *Tier) DeleteByPattern(_ context.Context, pattern string) ([]string, error) {
	// Validate before iterating so a malformed glob fails fast.
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	var matched []string
	it := t.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue // entry evicted mid-iteration
		}
		if ok, _ := path.Match(pattern, info.Key()); ok {
			matched = append(matched, info.Key())
		}
	}

	deleted := matched[:0]
	for _, k := range matched {
		if err := t.c.Delete(k); err == nil {
			deleted = append(deleted, k)
		}
	}
	return deleted, nil
}

func (t *Tier) Close(_ context.Context) error {
	return t.c.Close()
}
