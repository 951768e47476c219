package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/memory"
)

const (
	DefaultSemanticThreshold = 0.95
	DefaultSemanticTTL       = time.Hour

	responseKey = "response"
)

// SemanticCache replays answers to repeat questions that are phrased the
// same way or nearly so: the query embeds to a vector and any stored
// response within the similarity threshold and TTL window serves. A nil
// store or embedder disables it.
type SemanticCache struct {
	store     memory.VectorStore
	embedder  memory.EmbeddingProvider
	threshold float32
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	written map[string]time.Time // ids this cache inserted, for TTL eviction
}

func NewSemanticCache(store memory.VectorStore, embedder memory.EmbeddingProvider, threshold float32, ttl time.Duration, logger *zap.Logger) *SemanticCache {
	if threshold <= 0 {
		threshold = DefaultSemanticThreshold
	}
	if ttl <= 0 {
		ttl = DefaultSemanticTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		ttl:       ttl,
		logger:    logger.Named("semcache"),
		now:       time.Now,
		written:   make(map[string]time.Time),
	}
}

func (c *SemanticCache) enabled() bool {
	return c != nil && c.store != nil && c.embedder != nil
}

// Lookup returns the stored response nearest to query when it clears
// the similarity threshold inside the TTL window.
func (c *SemanticCache) Lookup(ctx context.Context, query string) (map[string]any, bool) {
	if !c.enabled() || query == "" {
		return nil, false
	}
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Debug("semantic embed failed", zap.Error(err))
		return nil, false
	}
	entries, err := c.store.Search(ctx, vec, 1, &memory.SearchFilter{
		MinScore: c.threshold,
		Since:    c.now().Add(-c.ttl),
	})
	if err != nil {
		c.logger.Debug("semantic search failed", zap.Error(err))
		return nil, false
	}
	if len(entries) == 0 {
		return nil, false
	}
	raw, ok := entries[0].Metadata[responseKey].(string)
	if !ok {
		return nil, false
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, false
	}
	c.logger.Debug("semantic cache hit",
		zap.Float32("score", entries[0].Score),
		zap.String("id", entries[0].ID))
	return body, true
}

// Store writes a query/response pair through to the vector store. The
// id is derived from the query text, so restating the same question
// replaces the stale entry instead of piling up duplicates.
func (c *SemanticCache) Store(ctx context.Context, query string, body map[string]any) error {
	if !c.enabled() || query == "" {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return err
	}

	c.evictExpired(ctx)

	now := c.now()
	id := queryID(query)
	entry := &memory.Entry{
		ID:        id,
		Content:   query,
		Embedding: vec,
		Metadata:  map[string]any{responseKey: string(raw)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Insert(ctx, entry); err != nil {
		return err
	}
	c.mu.Lock()
	c.written[id] = now
	c.mu.Unlock()
	return nil
}

// evictExpired deletes entries this cache wrote that have aged past the
// TTL. Lookup already filters them out; this keeps the store itself
// from accumulating dead vectors.
func (c *SemanticCache) evictExpired(ctx context.Context) {
	cutoff := c.now().Add(-c.ttl)

	c.mu.Lock()
	var expired []string
	for id, at := range c.written {
		if at.Before(cutoff) {
			expired = append(expired, id)
			delete(c.written, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		if err := c.store.Delete(ctx, id); err != nil {
			c.logger.Debug("semantic evict failed", zap.String("id", id), zap.Error(err))
		}
	}
}

func queryID(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "sem-" + hex.EncodeToString(sum[:16])
}
