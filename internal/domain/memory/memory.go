package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one long-term memory.
type Entry struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
	Score     float32 // similarity, filled by retrieval
	CreatedAt time.Time
	UpdatedAt time.Time
	SessionID string
}

// VectorStore persists memories and answers similarity queries.
type VectorStore interface {
	Insert(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
	BySession(ctx context.Context, sessionID string) ([]*Entry, error)
}

// SearchFilter narrows a similarity search.
type SearchFilter struct {
	SessionID string
	MinScore  float32
	Since     time.Time
}

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Manager is the write/read surface for long-term memory. Shaping pulls
// from it before step 1; the MemoryWrite tool writes into it.
type Manager struct {
	store    VectorStore
	embedder EmbeddingProvider
}

func NewManager(store VectorStore, embedder EmbeddingProvider) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// Remember stores one memory and returns the created entry.
func (m *Manager) Remember(ctx context.Context, content string, metadata map[string]any) (*Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty memory content")
	}
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		ID:        contentID(content),
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sessionID, ok := metadata["session_id"].(string); ok {
		entry.SessionID = sessionID
	}
	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	return entry, nil
}

// Recall returns the topK most similar memories for a query.
func (m *Manager) Recall(ctx context.Context, query string, topK int, filter *SearchFilter) ([]*Entry, error) {
	queryEmbedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := m.store.Search(ctx, queryEmbedding, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return results, nil
}

// Retrieve is Recall flattened to content strings, the form shaping
// injects into the system prompt.
func (m *Manager) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	entries, err := m.Recall(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out, nil
}

// Forget removes one memory by id.
func (m *Manager) Forget(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func contentID(content string) string {
	hash := sha256.Sum256([]byte(content + time.Now().String()))
	return hex.EncodeToString(hash[:16])
}

// InMemoryVectorStore is the default store: a map plus brute-force cosine
// scan. Fine for the retrieval sizes shaping asks for.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{entries: make(map[string]*Entry)}
}

func (s *InMemoryVectorStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryVectorStore) Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry *Entry
		score float32
	}
	var candidates []scored

	for _, entry := range s.entries {
		if filter != nil {
			if filter.SessionID != "" && entry.SessionID != filter.SessionID {
				continue
			}
			if !filter.Since.IsZero() && entry.CreatedAt.Before(filter.Since) {
				continue
			}
		}
		score := CosineSimilarity(query, entry.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		candidates = append(candidates, scored{entry: entry, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]*Entry, len(candidates))
	for i, c := range candidates {
		copied := *c.entry
		copied.Score = c.score
		results[i] = &copied
	}
	return results, nil
}

func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *InMemoryVectorStore) BySession(ctx context.Context, sessionID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*Entry
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			results = append(results, entry)
		}
	}
	return results, nil
}

// CosineSimilarity over two vectors of equal dimension. Mismatched or
// zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// HashEmbedder is the deterministic fallback embedder: character-hash
// buckets, normalised. No network, stable across runs.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, char := range word {
			idx := (int(char)*31 + i) % e.dimension
			embedding[idx] += 1.0
		}
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}
	return embedding, nil
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}
