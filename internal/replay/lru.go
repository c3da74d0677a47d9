// Package replay implements the (nonce, timestamp) dedup surface the
// validator calls through validator.ReplayCache (§4.2 step 3).
package replay

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// LRUCache is the single-instance default: an in-memory sliding window over
// recently seen nonces, bounded by both a time window and a max entry count
// so memory doesn't grow unbounded under a nonce-flooding caller.
type LRUCache struct {
	mu       sync.Mutex
	window   time.Duration
	maxItems int
	now      func() time.Time

	ll    *list.List
	index map[string]*list.Element
}

// NewLRUCache builds a cache that forgets a nonce after window has elapsed,
// capped at maxItems entries regardless of window (the teacher's
// InMemoryLimiterStore takes the analogous stance: bound memory first, let
// the time window do the rest).
func NewLRUCache(window time.Duration, maxItems int) *LRUCache {
	return &LRUCache{
		window:   window,
		maxItems: maxItems,
		now:      time.Now,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// CheckAndRemember implements validator.ReplayCache. timestamp is accepted
// to satisfy the interface but not used as part of the dedup key: nonces are
// generated fresh per call (§6 X-Caracal-Nonce), so the nonce alone is the
// replay signal; the validator's own temporal step separately rejects stale
// timestamps before replay is ever checked.
func (c *LRUCache) CheckAndRemember(_ context.Context, nonce string, timestamp int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	key := nonce
	if _, ok := c.index[key]; ok {
		return true, nil
	}

	el := c.ll.PushBack(entry{key: key, seen: now})
	c.index[key] = el

	for c.maxItems > 0 && c.ll.Len() > c.maxItems {
		oldest := c.ll.Front()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(entry).key)
	}

	return false, nil
}

func (c *LRUCache) evictExpired(now time.Time) {
	for {
		front := c.ll.Front()
		if front == nil {
			return
		}
		e := front.Value.(entry)
		if now.Sub(e.seen) <= c.window {
			return
		}
		c.ll.Remove(front)
		delete(c.index, e.key)
	}
}
