package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached value with its expiration.
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	element   *list.Element
}

// LRU is a thread-safe, bounded LRU cache with per-entry TTL. It backs
// the support-metrics memoization: bounded and evicting by design so a
// long-running process never accumulates an unbounded key space.
type LRU struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List
	maxEntries int
	ttl        time.Duration
}

// NewLRU creates a cache holding at most maxEntries values for at most
// ttl each. A ttl of zero means entries never expire by time.
func NewLRU(maxEntries int, ttl time.Duration) *LRU {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &LRU{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get retrieves a value, refreshing its recency on hit.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.remove(e)
		return nil, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when the
// cache is full.
func (c *LRU) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(existing.element)
		return
	}

	e := &entry{key: key, value: value, expiresAt: now.Add(c.ttl)}
	e.element = c.order.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry))
	}
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRU) remove(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
