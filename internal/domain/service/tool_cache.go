package service

import (
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

// cacheableKinds are the tool kinds whose results may be replayed within a
// request. Mutating kinds always re-execute.
var cacheableKinds = map[domaintool.Kind]bool{
	domaintool.KindRead:   true,
	domaintool.KindSearch: true,
	domaintool.KindFetch:  true,
}

// ToolResultCache holds recent tool results for short-term deduplication.
// When the model repeats a call with identical arguments within the TTL the
// stored result is returned without re-executing the tool. Replayed calls
// still count toward loop detection; the cache only skips the side trip.
type ToolResultCache struct {
	entries map[string]*cachedResult
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
}

type cachedResult struct {
	result    entity.ToolResult
	createdAt time.Time
}

// NewToolResultCache creates a cache with the given TTL and max entries.
func NewToolResultCache(ttl time.Duration, maxSize int) *ToolResultCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ToolResultCache{
		entries: make(map[string]*cachedResult, maxSize),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Cacheable reports whether results for the given tool kind may be replayed.
func (c *ToolResultCache) Cacheable(kind domaintool.Kind) bool {
	return cacheableKinds[kind]
}

// Get returns a stored result if present and not expired. The key is the
// call signature, so identical arguments hash to the same entry.
func (c *ToolResultCache) Get(call entity.ToolCall) (entity.ToolResult, bool) {
	key := call.Signature()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return entity.ToolResult{}, false
	}

	if time.Since(entry.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return entity.ToolResult{}, false
	}

	res := entry.result
	res.ID = call.ID
	return res, true
}

// Put stores a result under the call's signature.
func (c *ToolResultCache) Put(call entity.ToolCall, res entity.ToolResult) {
	key := call.Signature()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &cachedResult{
		result:    res,
		createdAt: time.Now(),
	}
}

// Clear empties the cache.
func (c *ToolResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedResult, c.maxSize)
}

// Size returns the number of entries in the cache.
func (c *ToolResultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry from the cache.
func (c *ToolResultCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for k, v := range c.entries {
		if oldestKey == "" || v.createdAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.createdAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
