package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is a cached value with its expiry
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	size      int64
}

// LRUCache is a thread-safe LRU cache with TTL support
type LRUCache struct {
	mu           sync.Mutex
	capacity     int           // Maximum number of entries
	maxSize      int64         // Maximum total size (0 = unlimited)
	ttl          time.Duration // Time-to-live for entries
	entries      map[string]*list.Element
	evictionList *list.List
	currentSize  int64
	now          func() time.Time

	// Statistics
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewLRUCache creates a new LRU cache. A capacity below 1 is treated as 1.
func NewLRUCache(capacity int, maxSize int64, ttl time.Duration) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity:     capacity,
		maxSize:      maxSize,
		ttl:          ttl,
		entries:      make(map[string]*list.Element),
		evictionList: list.New(),
		now:          time.Now,
	}
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(elem)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.evictionList.MoveToFront(elem)
	c.hits++
	return e.value, true
}

// Put adds or updates a value in the cache
func (c *LRUCache) Put(key string, value interface{}, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, exists := c.entries[key]; exists {
		e := elem.Value.(*entry)
		c.currentSize += size - e.size
		e.value = value
		e.size = size
		e.expiresAt = expiresAt
		c.evictionList.MoveToFront(elem)
		c.evictIfNeeded()
		return
	}

	elem := c.evictionList.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
		size:      size,
	})
	c.entries[key] = elem
	c.currentSize += size

	c.evictIfNeeded()
}

// evictIfNeeded removes entries while the cache is over capacity or size
func (c *LRUCache) evictIfNeeded() {
	for len(c.entries) > c.capacity {
		c.evictOldest()
	}
	if c.maxSize > 0 {
		for c.currentSize > c.maxSize && c.evictionList.Len() > 0 {
			c.evictOldest()
		}
	}
}

func (c *LRUCache) evictOldest() {
	if elem := c.evictionList.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions++
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.evictionList.Remove(elem)
	e := elem.Value.(*entry)
	delete(c.entries, e.key)
	c.currentSize -= e.size
}

// Clear removes all entries and keeps the statistics
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.evictionList = list.New()
	c.currentSize = 0
}

// Len returns the current number of entries
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanupExpired removes all expired entries and returns how many it removed
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.evictionList.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
			c.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Stats returns cache statistics
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		HitRate:     hitRate,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     len(c.entries),
		Size:        c.currentSize,
	}
}

// Stats represents cache statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
}
