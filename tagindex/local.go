package tagindex

import (
	"context"
	"sync"
)

// Local keeps tag memberships in-process. Both directions of the
// many-to-many relation are indexed so Tag, Untag and Keys stay O(affected
// memberships).
type Local struct {
	mu        sync.RWMutex
	tagToKeys map[string]map[string]struct{}
	keyToTags map[string]map[string]struct{}
}

var _ Index = (*Local)(nil)

func NewLocal() *Local {
	return &Local{
		tagToKeys: make(map[string]map[string]struct{}),
		keyToTags: make(map[string]map[string]struct{}),
	}
}

func (l *Local) Tag(_ context.Context, key string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	l.mu.Lock()
	for _, t := range tags {
		ks := l.tagToKeys[t]
		if ks == nil {
			ks = make(map[string]struct{})
			l.tagToKeys[t] = ks
		}
		ks[key] = struct{}{}

		ts := l.keyToTags[key]
		if ts == nil {
			ts = make(map[string]struct{})
			l.keyToTags[key] = ts
		}
		ts[t] = struct{}{}
	}
	l.mu.Unlock()
	return nil
}

func (l *Local) Keys(_ context.Context, tags []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	l.mu.RLock()
	for _, t := range tags {
		for k := range l.tagToKeys[t] {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	l.mu.RUnlock()
	return out, nil
}

func (l *Local) Untag(_ context.Context, key string) error {
	l.mu.Lock()
	for t := range l.keyToTags[key] {
		if ks := l.tagToKeys[t]; ks != nil {
			delete(ks, key)
			if len(ks) == 0 {
				delete(l.tagToKeys, t)
			}
		}
	}
	delete(l.keyToTags, key)
	l.mu.Unlock()
	return nil
}

func (l *Local) RemoveTags(_ context.Context, tags []string) error {
	l.mu.Lock()
	for _, t := range tags {
		for k := range l.tagToKeys[t] {
			if ts := l.keyToTags[k]; ts != nil {
				delete(ts, t)
				if len(ts) == 0 {
					delete(l.keyToTags, k)
				}
			}
		}
		delete(l.tagToKeys, t)
	}
	l.mu.Unlock()
	return nil
}

func (l *Local) Close(context.Context) error { return nil }
