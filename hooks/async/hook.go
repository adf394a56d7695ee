// Package asynchook wraps a Hooks implementation with a bounded queue and
// worker pool so slow sinks (metrics push, log shipping) never block the
// engine's hot paths. Events are dropped when the queue is full.
//
//	raw := myHooks{}
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
package asynchook

import (
	"sync"

	"github.com/openlms/tiercache"
)

type Hooks struct {
	inner tiercache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)      { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) Coalesced(k string)        { h.try(func() { h.inner.Coalesced(k) }) }
func (h *Hooks) PurgeError(err error)      { h.try(func() { h.inner.PurgeError(err) }) }
func (h *Hooks) TierSetRejected(t, k string) {
	h.try(func() { h.inner.TierSetRejected(t, k) })
}
func (h *Hooks) TierError(t, op string, err error) {
	h.try(func() { h.inner.TierError(t, op, err) })
}
func (h *Hooks) TagRegistrationError(k string, err error) {
	h.try(func() { h.inner.TagRegistrationError(k, err) })
}
func (h *Hooks) RuleExpansionError(trigger, tmpl string, err error) {
	h.try(func() { h.inner.RuleExpansionError(trigger, tmpl, err) })
}
func (h *Hooks) InvalidationItemError(item string, err error) {
	h.try(func() { h.inner.InvalidationItemError(item, err) })
}
