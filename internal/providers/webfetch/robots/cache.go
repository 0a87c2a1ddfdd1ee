package robots

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	origin   string
	decision Decision
	expires  time.Time
}

// Cache is a bounded LRU of decisions keyed by origin with a fixed TTL.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

// NewCache creates a cache holding at most capacity origins.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the live decision for origin and marks it recently used.
func (c *Cache) Get(origin string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[origin]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expires) {
		c.order.Remove(el)
		delete(c.items, origin)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.decision, true
}

// Put stores d for origin, evicting the least recently used origin when full.
func (c *Cache) Put(origin string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[origin]; ok {
		entry := el.Value.(*cacheEntry)
		entry.decision, entry.expires = d, expires
		c.order.MoveToFront(el)
		return
	}

	c.items[origin] = c.order.PushFront(&cacheEntry{origin: origin, decision: d, expires: expires})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).origin)
	}
}

// Len returns the number of stored origins, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
