package contextshape

import (
	"context"
	"strings"
	"sync"
)

// DefaultWindowTokens is the fallback when no probe or family match applies.
const DefaultWindowTokens = 8000

// CharsPerToken is the estimation ratio used everywhere shaping counts
// characters against a token budget.
const CharsPerToken = 4

// Prober resolves a live context window from a provider endpoint, e.g.
// Ollama /api/show or OpenRouter /v1/models.
type Prober interface {
	ContextWindow(ctx context.Context, model string) (tokens int, ok bool)
}

// knownWindows maps model-name prefixes to published context windows.
// Longest prefixes first so the specific entry wins.
var knownWindows = []struct {
	prefix string
	tokens int
}{
	{"claude-opus-4", 200000},
	{"claude-sonnet-4", 200000},
	{"claude-haiku-4", 200000},
	{"claude-3", 200000},
	{"claude", 200000},
	{"gpt-4.1", 1000000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
	{"o1", 200000},
	{"o3", 200000},
	{"o4", 200000},
	{"gemini-2", 1048576},
	{"gemini-1.5-pro", 2097152},
	{"gemini-1.5", 1048576},
	{"llama3", 128000},
	{"llama-3", 128000},
	{"qwen3", 131072},
	{"qwen2.5", 131072},
	{"deepseek", 131072},
	{"mistral", 32768},
}

// WindowResolver answers "how big is this model's context window" and
// caches every answer for the life of the process. Probers are optional
// per-provider lookups consulted before the static family table.
type WindowResolver struct {
	mu      sync.RWMutex
	cache   map[string]int
	probers map[string]Prober
}

func NewWindowResolver() *WindowResolver {
	return &WindowResolver{
		cache:   make(map[string]int),
		probers: make(map[string]Prober),
	}
}

// RegisterProber attaches a live lookup for one provider.
func (r *WindowResolver) RegisterProber(provider string, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[provider] = p
}

// Seed pins the window for a provider/model pair ahead of any probe,
// typically from the model catalog.
func (r *WindowResolver) Seed(provider, model string, tokens int) {
	if tokens <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[provider+"/"+model] = tokens
}

// Tokens resolves the context window in tokens for a provider/model pair.
func (r *WindowResolver) Tokens(ctx context.Context, provider, model string) int {
	key := provider + "/" + model

	r.mu.RLock()
	if tokens, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return tokens
	}
	prober := r.probers[provider]
	r.mu.RUnlock()

	tokens := 0
	if prober != nil {
		if probed, ok := prober.ContextWindow(ctx, model); ok && probed > 0 {
			tokens = probed
		}
	}
	if tokens == 0 {
		tokens = familyWindow(model)
	}
	if tokens == 0 {
		tokens = DefaultWindowTokens
	}

	r.mu.Lock()
	r.cache[key] = tokens
	r.mu.Unlock()
	return tokens
}

// Chars is Tokens scaled to the character budget shaping works in.
func (r *WindowResolver) Chars(ctx context.Context, provider, model string) int {
	return r.Tokens(ctx, provider, model) * CharsPerToken
}

func familyWindow(model string) int {
	name := strings.ToLower(model)
	// OpenRouter-style ids carry a vendor prefix.
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	for _, entry := range knownWindows {
		if strings.HasPrefix(name, entry.prefix) {
			return entry.tokens
		}
	}
	return 0
}
