// Package parser recovers structured tool calls from model text. Some
// backends narrate tool use in prose or emit family-specific markup instead
// of native tool_calls; each Parser knows one family's habits.
package parser

import (
	"strings"
	"sync"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Parser extracts tool calls from assistant text. ExtractToolCallsFromText
// returns nil when the text contains no recognisable calls; extracted calls
// replace the narration text in the response.
type Parser interface {
	// Name identifies the parser family in logs and registry listings.
	Name() string
	// ExtractToolCallsFromText scans text for the family's tool-call
	// markup and returns the parsed calls, or nil.
	ExtractToolCallsFromText(text string) []entity.ToolCall
	// CleanArguments normalises a call's arguments in place (shell sigils,
	// bullet markers, stringified JSON leaves) and returns the call.
	CleanArguments(call entity.ToolCall) entity.ToolCall
}

// Registry resolves a model name to its parser. Read-mostly: families are
// registered once at construction, lookups are lock-free afterwards via an
// immutable snapshot.
type Registry struct {
	mu       sync.RWMutex
	families []familyEntry
	fallback Parser
}

type familyEntry struct {
	substrings []string
	parser     Parser
}

// NewRegistry builds the registry with every built-in family bound and the
// generic parser as fallback.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewGenericToolParser()}
	r.Register(NewLlamaParser(), "llama")
	r.Register(NewQwenParser(), "qwen", "qwq")
	r.Register(NewGLMParser(), "glm", "chatglm")
	r.Register(NewDeepSeekParser(), "deepseek")
	r.Register(NewKimiParser(), "kimi", "moonshot")
	r.Register(NewNemotronParser(), "nemotron")
	r.Register(NewMiniMaxParser(), "minimax", "abab")
	r.Register(NewGptOssParser(), "gpt-oss", "gptoss")
	return r
}

// Register binds a parser to the model-name substrings that select it.
func (r *Registry) Register(p Parser, substrings ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families = append(r.families, familyEntry{substrings: substrings, parser: p})
}

// ForModel returns the parser for a model name. Matching is substring,
// case-insensitive; first registered match wins; fallback is generic.
func (r *Registry) ForModel(model string) Parser {
	lower := strings.ToLower(model)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fe := range r.families {
		for _, sub := range fe.substrings {
			if strings.Contains(lower, sub) {
				return fe.parser
			}
		}
	}
	return r.fallback
}

// Fallback returns the generic parser.
func (r *Registry) Fallback() Parser {
	return r.fallback
}
