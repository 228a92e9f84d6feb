package engine

import (
	"sync"
	"time"
)

const defaultDedupeEntries = 10000

// DedupeCache remembers message ids for ttl so a message delivered twice (for
// example over IRC and EventSub) is routed once.
type DedupeCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	items      map[string]time.Time
}

func NewDedupeCache(ttl time.Duration) *DedupeCache {
	return &DedupeCache{ttl: ttl, maxEntries: defaultDedupeEntries, items: make(map[string]time.Time)}
}

// Seen records key at now and reports whether it was already recorded within
// the ttl. An empty key or a non-positive ttl is never a duplicate.
func (d *DedupeCache) Seen(key string, now time.Time) bool {
	if d == nil || key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ttl <= 0 {
		return false
	}
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= d.ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.maxEntries {
		d.compact(now)
	}
	return false
}

func (d *DedupeCache) SetTTL(ttl time.Duration) {
	d.mu.Lock()
	d.ttl = ttl
	d.mu.Unlock()
}

func (d *DedupeCache) compact(now time.Time) {
	for k, ts := range d.items {
		if now.Sub(ts) > d.ttl {
			delete(d.items, k)
		}
	}
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}
