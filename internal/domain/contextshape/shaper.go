package contextshape

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// MemorySource retrieves long-term memories relevant to a query.
type MemorySource interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Encoder compacts a JSON value into a terser textual notation.
type Encoder interface {
	Encode(v any) (string, error)
}

// Config tunes the shaping passes.
type Config struct {
	CompressionThreshold    int // message count that triggers history compression
	KeepRecentTurns         int
	MemoryTopK              int
	MinimalToolDescriptions bool
	ToonMinBytes            int
	TokenReserve            int // output tokens held back when the payload has no max_tokens
}

func DefaultConfig() *Config {
	return &Config{
		CompressionThreshold: 15,
		KeepRecentTurns:      10,
		MemoryTopK:           5,
		ToonMinBytes:         4096,
		TokenReserve:         1024,
	}
}

// Shaper rewrites a payload to fit the target model's context window.
// It runs exactly once per request, at loop step 1 before the first
// provider call.
type Shaper struct {
	cfg      *Config
	windows  *WindowResolver
	memories MemorySource
	encoder  Encoder
	logger   *zap.Logger
	toonWarn sync.Once
}

func NewShaper(cfg *Config, windows *WindowResolver, memories MemorySource, encoder Encoder, logger *zap.Logger) *Shaper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if windows == nil {
		windows = NewWindowResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shaper{
		cfg:      cfg,
		windows:  windows,
		memories: memories,
		encoder:  encoder,
		logger:   logger.Named("contextshape"),
	}
}

// Report records what shaping did to one payload.
type Report struct {
	MessagesBefore    int
	MessagesAfter     int
	CompressedHistory bool
	MemoriesInjected  int
	ToonRewrites      int
	BudgetRounds      int
	EstimatedTokens   int
}

const (
	taskDelegationPrompt = "When a request spans multiple independent subtasks, delegate them with the Task tool instead of doing everything inline. Each Task call runs a focused subagent and returns its result."

	toolTerminationPrompt = "Once your tool calls have produced enough information to answer, stop calling tools and write the final answer as plain text."

	toolNudge = "Go ahead and use the tool calls if you want to. Do not describe what you are about to do — just call the tools directly."
)

// Shape mutates the payload in place and returns what happened.
func (s *Shaper) Shape(ctx context.Context, req *entity.MessagesRequest, provider string) *Report {
	report := &Report{MessagesBefore: len(req.Messages)}
	windowChars := s.windows.Chars(ctx, provider, req.Model)

	// 1. History compression.
	if len(req.Messages) > s.cfg.CompressionThreshold {
		req.Messages = compressHistory(req.Messages, s.cfg.KeepRecentTurns, windowChars, defaultTiers)
		report.CompressedHistory = true
	}

	// 2. Memory injection.
	s.injectMemories(ctx, req, report)

	// 3. System-prompt optimisation.
	s.optimiseSystem(req, provider)

	// 4. Token-budget enforcement.
	s.enforceBudget(req, windowChars, report)

	// 5. TOON compaction.
	s.toonPass(req, report)

	// 6. Consecutive-role coalescing.
	req.Messages = coalesce(req.Messages)

	// 7. Tool-call nudge.
	if req.HasTools() {
		appendSystem(req, toolNudge)
	}

	report.MessagesAfter = len(req.Messages)
	report.EstimatedTokens = estimateTokens(req)

	s.logger.Debug("payload shaped",
		zap.Int("messages_before", report.MessagesBefore),
		zap.Int("messages_after", report.MessagesAfter),
		zap.Bool("compressed", report.CompressedHistory),
		zap.Int("memories", report.MemoriesInjected),
		zap.Int("toon_rewrites", report.ToonRewrites),
		zap.Int("estimated_tokens", report.EstimatedTokens))
	return report
}

func (s *Shaper) injectMemories(ctx context.Context, req *entity.MessagesRequest, report *Report) {
	if s.memories == nil || s.cfg.MemoryTopK <= 0 {
		return
	}
	query := req.LastUserText()
	if query == "" {
		return
	}
	items, err := s.memories.Retrieve(ctx, query, s.cfg.MemoryTopK)
	if err != nil {
		s.logger.Debug("memory retrieval failed", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	recent := recentWindowText(req.Messages, 6)
	var kept []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || strings.Contains(recent, item) {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("# Context\n")
	for _, item := range kept {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	prependSystem(req, strings.TrimRight(sb.String(), "\n"))
	report.MemoriesInjected = len(kept)
}

func (s *Shaper) optimiseSystem(req *entity.MessagesRequest, provider string) {
	if s.cfg.MinimalToolDescriptions {
		for i := range req.Tools {
			req.Tools[i].Description = firstSentence(req.Tools[i].Description, 100)
		}
	}
	for _, t := range req.Tools {
		if t.Name == "Task" {
			appendSystem(req, taskDelegationPrompt)
			break
		}
	}
	if provider != "anthropic" && req.HasTools() {
		appendSystem(req, toolTerminationPrompt)
	}
}

// enforceBudget re-runs compression with halved tiers until the estimate
// fits the window minus the output reserve, up to three rounds.
func (s *Shaper) enforceBudget(req *entity.MessagesRequest, windowChars int, report *Report) {
	windowTokens := windowChars / CharsPerToken
	reserve := req.MaxTokens
	if reserve <= 0 {
		reserve = s.cfg.TokenReserve
	}
	if reserve <= 0 {
		reserve = 1024
	}
	if reserve > windowTokens/2 {
		reserve = windowTokens / 2
	}
	budget := windowTokens - reserve

	tiers := defaultTiers
	for round := 0; round < 3; round++ {
		if estimateTokens(req) <= budget {
			return
		}
		for i := range tiers {
			tiers[i].keepRatio *= 0.5
			tiers[i].budgetRatio *= 0.5
		}
		req.Messages = compressHistory(req.Messages, s.cfg.KeepRecentTurns, windowChars, tiers)
		report.BudgetRounds++
	}
}

// toonPass rewrites large JSON-bearing text blocks through the encoder.
// Tool output is never touched; a failing encoder logs once and passes
// payloads through unchanged.
func (s *Shaper) toonPass(req *entity.MessagesRequest, report *Report) {
	if s.encoder == nil || s.cfg.ToonMinBytes <= 0 {
		return
	}
	for i := range req.Messages {
		m := &req.Messages[i]
		if m.Role == entity.RoleTool || len(m.ToolResults()) > 0 {
			continue
		}
		for j := range m.Content {
			block := &m.Content[j]
			if block.Type != entity.BlockText || len(block.Text) < s.cfg.ToonMinBytes {
				continue
			}
			trimmed := strings.TrimSpace(block.Text)
			if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
				continue
			}
			var value any
			if json.Unmarshal([]byte(trimmed), &value) != nil {
				continue
			}
			encoded, err := s.encoder.Encode(value)
			if err != nil {
				s.toonWarn.Do(func() {
					s.logger.Warn("toon encoding failed, passing payloads through", zap.Error(err))
				})
				continue
			}
			if len(encoded) > 0 && len(encoded) < len(block.Text) {
				block.Text = encoded
				report.ToonRewrites++
			}
		}
	}
}

// coalesce merges adjacent same-role messages. Touching text blocks join
// with a blank line; other block sequences concatenate.
func coalesce(msgs []entity.Message) []entity.Message {
	if len(msgs) < 2 {
		return msgs
	}
	out := make([]entity.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			prev := &out[len(out)-1]
			prev.Content = mergeBlocks(prev.Content, m.Content)
			continue
		}
		out = append(out, m)
	}
	return out
}

func mergeBlocks(a, b entity.BlockList) entity.BlockList {
	if len(a) > 0 && len(b) > 0 &&
		a[len(a)-1].Type == entity.BlockText && b[0].Type == entity.BlockText {
		a[len(a)-1].Text = a[len(a)-1].Text + "\n\n" + b[0].Text
		return append(a, b[1:]...)
	}
	return append(a, b...)
}

// estimateTokens is ceil(chars/4) over system, tools JSON, and message
// content. It matches the count_tokens endpoint's estimator.
func estimateTokens(req *entity.MessagesRequest) int {
	chars := len(req.System)
	if len(req.Tools) > 0 {
		if b, err := json.Marshal(req.Tools); err == nil {
			chars += len(b)
		}
	}
	for _, m := range req.Messages {
		for _, block := range m.Content {
			chars += len(block.Text) + len(block.Content) + len(block.Thinking)
			if block.Input != nil {
				if b, err := json.Marshal(block.Input); err == nil {
					chars += len(b)
				}
			}
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

func recentWindowText(msgs []entity.Message, window int) string {
	start := len(msgs) - window
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, m := range msgs[start:] {
		sb.WriteString(m.FlatText())
		sb.WriteString("\n")
	}
	return sb.String()
}

func appendSystem(req *entity.MessagesRequest, text string) {
	if req.System == "" {
		req.System = entity.SystemPrompt(text)
		return
	}
	req.System = entity.SystemPrompt(string(req.System) + "\n\n" + text)
}

func prependSystem(req *entity.MessagesRequest, text string) {
	if req.System == "" {
		req.System = entity.SystemPrompt(text)
		return
	}
	req.System = entity.SystemPrompt(text + "\n\n" + string(req.System))
}

func firstSentence(s string, max int) string {
	if idx := strings.Index(s, ". "); idx >= 0 && idx+1 <= max {
		return s[:idx+1]
	}
	return clip(s, max)
}
