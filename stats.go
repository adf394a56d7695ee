package tiercache

import (
	"sync"
	"time"
)

// KeyStats is a point-in-time snapshot of the engine's counters for one
// logical key. Aggregation into operator-facing hit-rate reports happens
// outside the engine.
type KeyStats struct {
	Hits       uint64
	Misses     uint64
	Requests   uint64
	AvgLatency time.Duration
}

type keyCounters struct {
	hits       uint64
	misses     uint64
	requests   uint64
	totalLatNs uint64
}

type statsMap struct {
	mu sync.RWMutex
	m  map[string]*keyCounters
}

func newStatsMap() *statsMap {
	return &statsMap{m: make(map[string]*keyCounters)}
}

func (s *statsMap) record(key string, hit bool, lat time.Duration) {
	s.mu.Lock()
	c := s.m[key]
	if c == nil {
		c = &keyCounters{}
		s.m[key] = c
	}
	c.requests++
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.totalLatNs += uint64(lat.Nanoseconds())
	s.mu.Unlock()
}

func (s *statsMap) snapshot() map[string]KeyStats {
	s.mu.RLock()
	out := make(map[string]KeyStats, len(s.m))
	for k, c := range s.m {
		out[k] = c.stats()
	}
	s.mu.RUnlock()
	return out
}

func (s *statsMap) get(key string) (KeyStats, bool) {
	s.mu.RLock()
	c, ok := s.m[key]
	var ks KeyStats
	if ok {
		ks = c.stats()
	}
	s.mu.RUnlock()
	return ks, ok
}

func (c *keyCounters) stats() KeyStats {
	ks := KeyStats{Hits: c.hits, Misses: c.misses, Requests: c.requests}
	if c.requests > 0 {
		ks.AvgLatency = time.Duration(c.totalLatNs / c.requests)
	}
	return ks
}
