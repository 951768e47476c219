package contextshape

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

type staticProber struct {
	tokens int
	calls  int
}

func (p *staticProber) ContextWindow(ctx context.Context, model string) (int, bool) {
	p.calls++
	return p.tokens, p.tokens > 0
}

type staticMemories struct {
	items []string
}

func (m *staticMemories) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	return m.items, nil
}

type upperEncoder struct{}

func (upperEncoder) Encode(v any) (string, error) {
	return "toon:" + fmt.Sprintf("%v", v)[:8], nil
}

type failingEncoder struct{}

func (failingEncoder) Encode(v any) (string, error) {
	return "", fmt.Errorf("encoder broken")
}

// === Window Resolver Tests ===

func TestWindowResolverFamilies(t *testing.T) {
	r := NewWindowResolver()
	ctx := context.Background()

	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5-20250929", 200000},
		{"gpt-4o-mini", 128000},
		{"anthropic/claude-3-5-sonnet", 200000},
		{"qwen3:8b", 131072},
		{"totally-unknown-model", DefaultWindowTokens},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := r.Tokens(ctx, "any", tt.model); got != tt.want {
				t.Errorf("Tokens(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func TestWindowResolverProberWinsAndCaches(t *testing.T) {
	r := NewWindowResolver()
	prober := &staticProber{tokens: 32768}
	r.RegisterProber("ollama", prober)
	ctx := context.Background()

	if got := r.Tokens(ctx, "ollama", "claude-3-haiku"); got != 32768 {
		t.Fatalf("probed window = %d, want 32768", got)
	}
	r.Tokens(ctx, "ollama", "claude-3-haiku")
	r.Tokens(ctx, "ollama", "claude-3-haiku")
	if prober.calls != 1 {
		t.Fatalf("prober called %d times, want 1 (cached)", prober.calls)
	}
	if got := r.Chars(ctx, "ollama", "claude-3-haiku"); got != 32768*CharsPerToken {
		t.Fatalf("Chars = %d, want %d", got, 32768*CharsPerToken)
	}
}

// === History Compression Tests ===

func conversation(n int) []entity.Message {
	msgs := make([]entity.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, entity.NewTextMessage(entity.RoleUser, fmt.Sprintf("question %d", i)))
		} else {
			msgs = append(msgs, entity.NewTextMessage(entity.RoleAssistant, fmt.Sprintf("answer %d", i)))
		}
	}
	return msgs
}

func TestCompressHistoryFoldsOldIntoSummary(t *testing.T) {
	msgs := conversation(20)
	msgs[1] = entity.Message{Role: entity.RoleAssistant, Content: entity.BlockList{
		entity.ToolUseBlock("t1", "Read", map[string]any{"file_path": "a.go"}),
		entity.ToolUseBlock("t2", "Grep", map[string]any{"pattern": "x"}),
	}}

	out := compressHistory(msgs, 10, 32000, defaultTiers)
	if len(out) != 11 {
		t.Fatalf("compressed to %d messages, want 11 (summary + 10 recent)", len(out))
	}
	summary := out[0]
	if summary.Role != entity.RoleUser {
		t.Fatalf("summary role = %q, want user", summary.Role)
	}
	text := summary.Text()
	if !strings.HasPrefix(text, "[Earlier conversation summary:") {
		t.Fatalf("summary text = %q", text)
	}
	if !strings.Contains(text, "Read, Grep") {
		t.Fatalf("summary missing tool names: %q", text)
	}
	for i, m := range out[1:] {
		if m.Text() != msgs[10+i].Text() {
			t.Fatalf("recent message %d mutated", i)
		}
	}
}

func TestCompressHistorySqueezesToolResultsByTier(t *testing.T) {
	big := strings.Repeat("x", 10000)
	msgs := make([]entity.Message, 0, 16)
	// an old tool result, then padding, then a fresh tool result
	msgs = append(msgs, entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
		entity.ToolResultBlock("t_old", big, false),
	}})
	msgs = append(msgs, conversation(14)...)
	msgs = append(msgs, entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
		entity.ToolResultBlock("t_new", big, false),
	}})

	out := compressHistory(msgs, 16, 32000, defaultTiers)

	oldLen := len(out[0].Content[0].Content)
	newLen := len(out[len(out)-1].Content[0].Content)
	if newLen >= len(big) {
		t.Fatalf("veryRecent tool result not squeezed: %d", newLen)
	}
	if oldLen >= newLen {
		t.Fatalf("old tier (%d chars) should squeeze harder than veryRecent (%d chars)", oldLen, newLen)
	}
	if !strings.Contains(out[0].Content[0].Content, "chars omitted]") {
		t.Fatal("omission marker missing from squeezed result")
	}
}

func TestCompressHistoryIdempotent(t *testing.T) {
	big := strings.Repeat("payload ", 2000)
	msgs := conversation(18)
	msgs[3] = entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
		entity.ToolResultBlock("t_old", big, false),
	}}
	msgs[15] = entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
		entity.ToolResultBlock("t_big", big, false),
	}}
	msgs[17] = entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
		entity.ToolResultBlock("t_small", strings.Repeat("y", 50), false),
	}}

	once := compressHistory(entity.CloneMessages(msgs), 10, 32000, defaultTiers)
	snapshot := entity.CloneMessages(once)
	twice := compressHistory(entity.CloneMessages(once), 10, 32000, defaultTiers)

	if len(twice) != len(snapshot) {
		t.Fatalf("second run changed message count: %d -> %d", len(snapshot), len(twice))
	}
	for i := range snapshot {
		if !reflect.DeepEqual(snapshot[i], twice[i]) {
			t.Fatalf("message %d changed on second run:\nfirst:  %+v\nsecond: %+v",
				i, snapshot[i], twice[i])
		}
	}
}

func TestHeadTailKeepsBothEnds(t *testing.T) {
	s := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := headTail(s, 100)
	if !strings.HasPrefix(out, "a") || !strings.HasSuffix(out, "z") {
		t.Fatalf("headTail lost an end: %q", out)
	}
	if !strings.Contains(out, "chars omitted]") {
		t.Fatal("omission marker missing")
	}
}

// === Shaper Pass Tests ===

func TestShapeAppendsNudgeOnlyWithTools(t *testing.T) {
	s := NewShaper(nil, nil, nil, nil, nil)
	ctx := context.Background()

	req := &entity.MessagesRequest{
		Model:    "claude-3-5-haiku",
		Messages: conversation(2),
		Tools:    []entity.Tool{{Name: "Read"}},
	}
	s.Shape(ctx, req, "anthropic")
	if !strings.Contains(string(req.System), "just call the tools directly") {
		t.Fatalf("nudge missing from system: %q", req.System)
	}

	bare := &entity.MessagesRequest{Model: "claude-3-5-haiku", Messages: conversation(2)}
	s.Shape(ctx, bare, "anthropic")
	if strings.Contains(string(bare.System), "tool calls") {
		t.Fatal("nudge injected without tools")
	}
}

func TestShapeInjectsMemoriesAsContextList(t *testing.T) {
	mem := &staticMemories{items: []string{"prefers tabs", "project uses sqlite"}}
	s := NewShaper(nil, nil, mem, nil, nil)

	req := &entity.MessagesRequest{
		Model:    "claude-3-5-haiku",
		System:   "Base prompt.",
		Messages: []entity.Message{entity.NewTextMessage(entity.RoleUser, "set up the database")},
	}
	report := s.Shape(context.Background(), req, "anthropic")

	if report.MemoriesInjected != 2 {
		t.Fatalf("injected %d memories, want 2", report.MemoriesInjected)
	}
	sys := string(req.System)
	if !strings.HasPrefix(sys, "# Context\n- prefers tabs\n- project uses sqlite") {
		t.Fatalf("memory header not prepended: %q", sys)
	}
	if !strings.Contains(sys, "Base prompt.") {
		t.Fatal("original system prompt lost")
	}
}

func TestShapeDedupesMemoriesAgainstRecentWindow(t *testing.T) {
	mem := &staticMemories{items: []string{"project uses sqlite"}}
	s := NewShaper(nil, nil, mem, nil, nil)

	req := &entity.MessagesRequest{
		Model: "claude-3-5-haiku",
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, "remember: project uses sqlite"),
		},
	}
	report := s.Shape(context.Background(), req, "anthropic")
	if report.MemoriesInjected != 0 {
		t.Fatalf("duplicate memory injected %d times", report.MemoriesInjected)
	}
}

func TestShapeCoalescesAdjacentSameRole(t *testing.T) {
	s := NewShaper(nil, nil, nil, nil, nil)
	req := &entity.MessagesRequest{
		Model: "claude-3-5-haiku",
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, "first"),
			entity.NewTextMessage(entity.RoleUser, "second"),
			entity.NewTextMessage(entity.RoleAssistant, "reply"),
		},
	}
	s.Shape(context.Background(), req, "anthropic")

	if len(req.Messages) != 2 {
		t.Fatalf("coalesced to %d messages, want 2", len(req.Messages))
	}
	if got := req.Messages[0].Text(); got != "first\n\nsecond" {
		t.Fatalf("merged text = %q", got)
	}
}

func TestShapeToonRewritesLargeJSONOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToonMinBytes = 64
	s := NewShaper(cfg, nil, nil, upperEncoder{}, nil)

	bigJSON := `{"rows":[` + strings.Repeat(`{"a":1},`, 20) + `{"a":1}]}`
	req := &entity.MessagesRequest{
		Model: "claude-3-5-haiku",
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, bigJSON),
			entity.NewTextMessage(entity.RoleAssistant, "short {}"),
			{Role: entity.RoleUser, Content: entity.BlockList{
				entity.ToolResultBlock("t1", bigJSON, false),
			}},
		},
	}
	report := s.Shape(context.Background(), req, "anthropic")

	if report.ToonRewrites != 1 {
		t.Fatalf("toon rewrites = %d, want 1", report.ToonRewrites)
	}
	if !strings.HasPrefix(req.Messages[0].Text(), "toon:") {
		t.Fatalf("large JSON not rewritten: %q", req.Messages[0].Text()[:20])
	}
	if req.Messages[1].Text() != "short {}" {
		t.Fatal("small text mutated")
	}
	if !strings.HasPrefix(req.Messages[2].Content[0].Content, `{"rows"`) {
		t.Fatal("tool result mutated by toon pass")
	}
}

func TestShapeToonFailsOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToonMinBytes = 8
	s := NewShaper(cfg, nil, nil, failingEncoder{}, nil)

	payload := `{"key":"` + strings.Repeat("v", 100) + `"}`
	req := &entity.MessagesRequest{
		Model:    "claude-3-5-haiku",
		Messages: []entity.Message{entity.NewTextMessage(entity.RoleUser, payload)},
	}
	s.Shape(context.Background(), req, "anthropic")

	if req.Messages[0].Text() != payload {
		t.Fatal("failing encoder must leave text unchanged")
	}
}

func TestShapeCompressesLongHistory(t *testing.T) {
	s := NewShaper(nil, nil, nil, nil, nil)
	req := &entity.MessagesRequest{
		Model:    "claude-3-5-haiku",
		Messages: conversation(30),
	}
	report := s.Shape(context.Background(), req, "anthropic")

	if !report.CompressedHistory {
		t.Fatal("30-message history should compress")
	}
	if report.MessagesAfter >= report.MessagesBefore {
		t.Fatalf("messages did not shrink: %d -> %d", report.MessagesBefore, report.MessagesAfter)
	}
}

func TestShapeBudgetRoundsTightenTiers(t *testing.T) {
	// Tiny window so the estimate starts far over budget.
	windows := NewWindowResolver()
	windows.RegisterProber("local", &staticProber{tokens: 512})
	s := NewShaper(nil, windows, nil, nil, nil)

	big := strings.Repeat("y", 4000)
	msgs := conversation(20)
	for i := 0; i < 18; i++ {
		msgs[i] = entity.Message{Role: entity.RoleUser, Content: entity.BlockList{
			entity.ToolResultBlock(fmt.Sprintf("t%d", i), big, false),
		}}
	}
	req := &entity.MessagesRequest{Model: "mystery", Messages: msgs}
	report := s.Shape(context.Background(), req, "local")

	if report.BudgetRounds == 0 {
		t.Fatal("expected at least one budget tightening round")
	}
	if report.EstimatedTokens > 2000 {
		t.Fatalf("estimate still huge after tightening: %d", report.EstimatedTokens)
	}
}

func TestEstimateTokensCountsAllSections(t *testing.T) {
	req := &entity.MessagesRequest{
		System:   entity.SystemPrompt(strings.Repeat("s", 40)),
		Messages: []entity.Message{entity.NewTextMessage(entity.RoleUser, strings.Repeat("m", 40))},
	}
	base := estimateTokens(req)
	if base < 20 {
		t.Fatalf("estimate = %d, want >= 20", base)
	}
	req.Tools = []entity.Tool{{Name: "Read", Description: strings.Repeat("d", 40)}}
	if withTools := estimateTokens(req); withTools <= base {
		t.Fatalf("tools JSON not counted: %d <= %d", withTools, base)
	}
}
