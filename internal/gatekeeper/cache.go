package gatekeeper

import (
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL  = 30 * time.Second
	defaultCacheSize = 256
)

// Cache stores classification outcomes keyed by (speaker, normalized text)
// with a TTL and a bounded size. When full, the oldest entry is evicted
// first. A Cache is shared across voice sessions and survives session
// teardown; pass one to several Gatekeepers via [Config.Cache].
type Cache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first
}

type cacheEntry struct {
	respond  bool
	cachedAt time.Time
}

func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
	}
}

// get returns the cached decision for key, if present and unexpired.
func (c *Cache) get(key string) (respond, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists {
		return false, false
	}
	if time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, key)
		return false, false
	}
	return e.respond, true
}

// put stores a decision, evicting the oldest entry when the cache is full.
func (c *Cache) put(key string, respond bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{respond: respond, cachedAt: time.Now()}
}

// cacheKey builds the (speaker, normalized text) cache key.
func cacheKey(speakerID, text string) string {
	return speakerID + "|" + normalizeText(text)
}

// normalizeText lowercases and collapses whitespace so trivially different
// transcriptions of the same phrase share a cache entry.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
