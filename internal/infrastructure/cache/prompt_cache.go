package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

const (
	DefaultPromptCapacity = 256
	DefaultPromptTTL      = 5 * time.Minute
)

// PromptCache is a bounded LRU over complete response bodies, keyed on
// the exact request shape. Zero capacity disables it: every Get misses
// and Put is a no-op, so callers never need a separate enabled check.
type PromptCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

type promptEntry struct {
	key       string
	body      []byte
	createdAt time.Time
}

func NewPromptCache(capacity int, ttl time.Duration) *PromptCache {
	if ttl <= 0 {
		ttl = DefaultPromptTTL
	}
	return &PromptCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// PromptKey hashes model, request mode, tool set, system prompt, and
// messages. encoding/json sorts map keys, so identical payloads always
// render to the same bytes.
func PromptKey(req *entity.MessagesRequest, mode string) string {
	h := sha256.New()
	write := func(b []byte) {
		h.Write(b)
		h.Write([]byte{0})
	}
	write([]byte(req.Model))
	write([]byte(mode))
	if b, err := json.Marshal(req.Tools); err == nil {
		write(b)
	}
	write([]byte(req.System))
	if b, err := json.Marshal(req.Messages); err == nil {
		write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a replay of the stored body for key. Every hit hands out
// a fresh copy with usage.cache_read_input_tokens set, so callers can
// tell a replay from a live answer and mutate it freely.
func (c *PromptCache) Get(key string) (map[string]any, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	entry := elem.Value.(*promptEntry)
	if c.now().Sub(entry.createdAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	c.order.MoveToFront(elem)
	raw := entry.body
	c.mu.Unlock()

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, false
	}
	markCacheRead(body)
	return body, true
}

// Put stores body under key, evicting the least recently used entry
// when the cache is full.
func (c *PromptCache) Put(key string, body map[string]any) {
	if c.capacity <= 0 {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*promptEntry)
		entry.body = raw
		entry.createdAt = c.now()
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*promptEntry).key)
	}
	c.items[key] = c.order.PushFront(&promptEntry{key: key, body: raw, createdAt: c.now()})
}

// Len reports live entries, expired or not.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// markCacheRead mirrors the stored input token count into
// usage.cache_read_input_tokens on the replayed body.
func markCacheRead(body map[string]any) {
	usage, ok := body["usage"].(map[string]any)
	if !ok {
		usage = map[string]any{}
		body["usage"] = usage
	}
	if v, ok := usage["input_tokens"]; ok {
		usage["cache_read_input_tokens"] = v
	} else if v, ok := usage["prompt_tokens"]; ok {
		usage["cache_read_input_tokens"] = v
	} else {
		usage["cache_read_input_tokens"] = 0
	}
}
