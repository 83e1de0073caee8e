package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key  string
	seen time.Time
}

// MemoryCache is a bounded in-process HotCache. Entries older than ttl are
// evicted lazily; when full the least recently recorded key goes first.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
}

func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *MemoryCache) CheckAndSet(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		if now.Sub(entry.seen) < window {
			return true, nil
		}
		entry.seen = now
		c.order.MoveToBack(el)
		return false, nil
	}

	for c.order.Len() >= c.maxSize {
		c.removeFront()
	}
	c.entries[key] = c.order.PushBack(&memoryEntry{key: key, seen: now})
	return false, nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) evictExpired(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for c.order.Len() > 0 {
		entry := c.order.Front().Value.(*memoryEntry)
		if now.Sub(entry.seen) < c.ttl {
			return
		}
		c.removeFront()
	}
}

func (c *MemoryCache) removeFront() {
	el := c.order.Front()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.entries, el.Value.(*memoryEntry).key)
}
