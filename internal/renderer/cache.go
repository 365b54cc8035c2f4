package renderer

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
)

// Cache is a bounded LRU of rendered SVGs. Keys cover everything that
// determines the output (preamble, mode and markup) so a preamble change
// never serves a stale image.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key string
	svg string
}

// NewCache creates a cache holding at most capacity entries. A capacity of
// zero or less yields a disabled cache whose methods are no-ops.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// CacheKey derives the cache key for a request rendered with preamble.
func CacheKey(preamble string, req RenderRequest) string {
	h := sha256.New()
	h.Write([]byte(preamble))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(req.DisplayMode)))
	h.Write([]byte{0})
	h.Write([]byte(req.Tex))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached SVG for key and marks it recently used.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil || c.capacity <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).svg, true
}

// Add stores svg under key, evicting the least recently used entry when full.
func (c *Cache) Add(key, svg string) {
	if c == nil || c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).svg = svg
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, svg: svg})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
