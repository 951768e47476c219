package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/parser"
)

func jsonEnvelope(t *testing.T, status int, body string) *Response {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("test body does not parse: %v", err)
	}
	return &Response{
		Status:         status,
		JSON:           m,
		OK:             status >= 200 && status < 300,
		ActualProvider: "test",
		raw:            []byte(body),
	}
}

func TestPrepareMessages_LiftsSystemMessages(t *testing.T) {
	req := &entity.MessagesRequest{
		System: "base prompt",
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleSystem, "extra instructions"),
			entity.NewTextMessage(entity.RoleUser, "hi"),
		},
	}

	system, msgs := PrepareMessages(req)
	if system != "base prompt\n\nextra instructions" {
		t.Fatalf("system = %q", system)
	}
	if len(msgs) != 1 || msgs[0].Role != entity.RoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestPrepareMessages_ReencodesToolRole(t *testing.T) {
	req := &entity.MessagesRequest{
		Messages: []entity.Message{
			{Role: entity.RoleAssistant, Content: entity.BlockList{
				entity.ToolUseBlock("call_1", "Bash", map[string]any{"command": "ls"}),
			}},
			{Role: entity.RoleTool, ToolCallID: "call_1", Content: entity.BlockList{
				entity.TextBlock("file.txt"),
			}},
		},
	}

	_, msgs := PrepareMessages(req)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	folded := msgs[1]
	if folded.Role != entity.RoleUser {
		t.Fatalf("tool message became role %q", folded.Role)
	}
	results := folded.ToolResults()
	if len(results) != 1 {
		t.Fatalf("expected 1 tool_result, got %+v", folded.Content)
	}
	if results[0].ToolUseID != "call_1" || results[0].Content != "file.txt" {
		t.Fatalf("tool_result = %+v", results[0])
	}
}

func TestPrepareMessages_DropsEmptyAndCoalesces(t *testing.T) {
	req := &entity.MessagesRequest{
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, "first"),
			{Role: entity.RoleAssistant},
			entity.NewTextMessage(entity.RoleUser, "second"),
		},
	}

	_, msgs := PrepareMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("expected coalesced single message, got %d", len(msgs))
	}
	if got := msgs[0].Text(); got != "first\n\nsecond" {
		t.Fatalf("coalesced text = %q", got)
	}
}

func TestPrepareMessages_DoesNotMutateRequest(t *testing.T) {
	req := &entity.MessagesRequest{
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, "a"),
			entity.NewTextMessage(entity.RoleUser, "b"),
		},
	}

	PrepareMessages(req)
	if len(req.Messages) != 2 {
		t.Fatalf("request mutated: %d messages", len(req.Messages))
	}
	if req.Messages[0].Text() != "a" {
		t.Fatalf("request message rewritten: %q", req.Messages[0].Text())
	}
}

func TestCoalesceSameRole_CarriesToolBlocks(t *testing.T) {
	msgs := []entity.Message{
		{Role: entity.RoleUser, Content: entity.BlockList{
			entity.ToolResultBlock("call_1", "out", false),
		}},
		entity.NewTextMessage(entity.RoleUser, "continue"),
	}

	out := CoalesceSameRole(msgs)
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if len(out[0].Content) != 2 {
		t.Fatalf("blocks = %+v", out[0].Content)
	}
	if out[0].Content[0].Type != entity.BlockToolResult || out[0].Content[1].Type != entity.BlockText {
		t.Fatalf("block order wrong: %+v", out[0].Content)
	}
}

func TestMapOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		reason   string
		hasCalls bool
		want     string
	}{
		{"stop", false, entity.StopEndTurn},
		{"length", false, entity.StopMaxTokens},
		{"tool_calls", false, entity.StopToolUse},
		{"function_call", false, entity.StopToolUse},
		{"", true, entity.StopToolUse},
		{"", false, entity.StopEndTurn},
	}
	for _, tt := range tests {
		if got := MapOpenAIFinishReason(tt.reason, tt.hasCalls); got != tt.want {
			t.Errorf("MapOpenAIFinishReason(%q, %v) = %q, want %q", tt.reason, tt.hasCalls, got, tt.want)
		}
	}
}

func TestMapGeminiFinishReason(t *testing.T) {
	tests := []struct {
		reason   string
		hasCalls bool
		want     string
	}{
		{"STOP", false, entity.StopEndTurn},
		{"MAX_TOKENS", false, entity.StopMaxTokens},
		{"STOP", true, entity.StopToolUse},
	}
	for _, tt := range tests {
		if got := MapGeminiFinishReason(tt.reason, tt.hasCalls); got != tt.want {
			t.Errorf("MapGeminiFinishReason(%q, %v) = %q, want %q", tt.reason, tt.hasCalls, got, tt.want)
		}
	}
}

func TestNormalize_OpenAIShape(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"id": "chatcmpl-1",
		"model": "qwen3-max",
		"choices": [{"message": {"role": "assistant", "content": "Hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5}
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "chatcmpl-1" || out.Model != "qwen3-max" {
		t.Fatalf("identity wrong: %+v", out)
	}
	if out.Type != "message" || out.Role != entity.RoleAssistant {
		t.Fatalf("canonical envelope wrong: %+v", out)
	}
	if out.Text() != "Hello" {
		t.Fatalf("text = %q", out.Text())
	}
	if out.StopReason != entity.StopEndTurn {
		t.Fatalf("stop_reason = %q", out.StopReason)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Fatalf("usage = %+v", out.Usage)
	}
}

func TestNormalize_OpenAIToolCalls(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"model": "qwen3-max",
		"choices": [{
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "Read", "arguments": "{\"file_path\":\"a.txt\"}"}}]
			},
			"finish_reason": "tool_calls"
		}]
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uses := out.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("tool uses = %+v", out.Content)
	}
	if uses[0].ID != "call_9" || uses[0].Name != "Read" {
		t.Fatalf("tool use = %+v", uses[0])
	}
	if uses[0].Input["file_path"] != "a.txt" {
		t.Fatalf("arguments = %+v", uses[0].Input)
	}
	if out.StopReason != entity.StopToolUse {
		t.Fatalf("stop_reason = %q", out.StopReason)
	}
	if !strings.HasPrefix(out.ID, "msg_") {
		t.Fatalf("missing wire id should mint msg_ prefix, got %q", out.ID)
	}
}

func TestNormalize_OpenAIContentParts(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"model": "m",
		"choices": [{"message": {"role": "assistant", "content": [{"type": "text", "text": "a"}, {"type": "text", "text": "b"}]}, "finish_reason": "stop"}]
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text() != "a\nb" {
		t.Fatalf("text = %q", out.Text())
	}
}

func TestNormalize_StripsThink(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"model": "deepseek-r1",
		"choices": [{"message": {"role": "assistant", "content": "<think>hmm</think>Answer"}, "finish_reason": "stop"}]
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text() != "Answer" {
		t.Fatalf("text = %q", out.Text())
	}
}

func TestNormalize_OpenAINoChoices(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{"model": "m", "choices": []}`)
	if _, err := Normalize(resp, "fallback"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNormalize_AnthropicShape(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"id": "msg_abc",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet",
		"content": [{"type": "text", "text": "<thinking>x</thinking>hi"}, {"type": "tool_use", "id": "t1", "name": "Bash", "input": {"command": "ls"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 3, "output_tokens": 4}
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "msg_abc" || out.Model != "claude-sonnet" {
		t.Fatalf("identity wrong: %+v", out)
	}
	if out.Text() != "hi" {
		t.Fatalf("think block survived: %q", out.Text())
	}
	if len(out.ToolUses()) != 1 || out.ToolUses()[0].ID != "t1" {
		t.Fatalf("tool uses = %+v", out.Content)
	}
	if out.Usage.InputTokens != 3 || out.Usage.OutputTokens != 4 {
		t.Fatalf("usage = %+v", out.Usage)
	}
}

func TestNormalize_AnthropicDefaults(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"role": "assistant",
		"content": [{"type": "tool_use", "id": "t1", "name": "Bash", "input": {}}]
	}`)

	out, err := Normalize(resp, "fallback-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.ID, "msg_") {
		t.Fatalf("id = %q", out.ID)
	}
	if out.Type != "message" || out.Model != "fallback-model" {
		t.Fatalf("defaults missing: %+v", out)
	}
	if out.StopReason != entity.StopToolUse {
		t.Fatalf("stop_reason = %q", out.StopReason)
	}
}

func TestNormalize_GeminiShape(t *testing.T) {
	resp := jsonEnvelope(t, 200, `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "internal", "thought": true},
				{"text": "visible"},
				{"functionCall": {"name": "Read", "args": {"file_path": "a.txt"}}}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2},
		"modelVersion": "gemini-2.0-flash"
	}`)

	out, err := Normalize(resp, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Model != "gemini-2.0-flash" {
		t.Fatalf("model = %q", out.Model)
	}
	if out.Text() != "visible" {
		t.Fatalf("thought part leaked: %q", out.Text())
	}
	uses := out.ToolUses()
	if len(uses) != 1 || uses[0].Name != "Read" {
		t.Fatalf("tool uses = %+v", out.Content)
	}
	if !strings.HasPrefix(uses[0].ID, "toolu_") {
		t.Fatalf("minted id = %q", uses[0].ID)
	}
	if out.StopReason != entity.StopToolUse {
		t.Fatalf("stop_reason = %q", out.StopReason)
	}
	if out.Usage.InputTokens != 7 || out.Usage.OutputTokens != 2 {
		t.Fatalf("usage = %+v", out.Usage)
	}
}

func TestNormalize_RejectsNonJSONAndUnknownShapes(t *testing.T) {
	html := &Response{Status: 200, OK: true, Text: "<html></html>", ContentType: "text/html", ActualProvider: "p"}
	if _, err := Normalize(html, "m"); err == nil {
		t.Fatal("expected error for non-JSON body")
	}

	unknown := jsonEnvelope(t, 200, `{"foo": 1}`)
	_, err := Normalize(unknown, "m")
	if err == nil {
		t.Fatal("expected error for unknown shape")
	}
	if kind, _ := KindOf(err); kind != KindMalformedResponse {
		t.Fatalf("kind = %s", kind)
	}
}

func TestParseWireArguments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want any
	}{
		{"object", `{"a": 1}`, "a", float64(1)},
		{"double stringified", `"{\"a\":1}"`, "a", float64(1)},
		{"empty", "", "", nil},
		{"null", "null", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseWireArguments(tt.in)
			if tt.key == "" {
				if len(got) != 0 {
					t.Fatalf("expected empty map, got %+v", got)
				}
				return
			}
			if got[tt.key] != tt.want {
				t.Fatalf("got %+v", got)
			}
		})
	}

	raw := parseWireArguments("definitely not json")
	if raw["_raw"] != "definitely not json" {
		t.Fatalf("unparseable arguments should survive under _raw, got %+v", raw)
	}
}

func TestExtractToolCalls_NativeBlocksWin(t *testing.T) {
	parsers := parser.NewRegistry()
	resp := &entity.MessagesResponse{
		Model: "claude-sonnet",
		Content: []entity.ContentBlock{
			entity.TextBlock("Running it now."),
			{Type: entity.BlockToolUse, Name: "Bash", Input: map[string]any{"command": "ls"}},
		},
		StopReason: entity.StopToolUse,
	}

	calls := ExtractToolCalls(resp, parsers)
	if len(calls) != 1 || calls[0].Name != "Bash" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID == "" {
		t.Fatal("missing block id should be minted")
	}
	if resp.Content[1].ID != calls[0].ID {
		t.Fatal("minted id should be written back into the block")
	}
	if len(resp.Content) != 2 {
		t.Fatalf("native content must not be replaced: %+v", resp.Content)
	}
}

func TestExtractToolCalls_NarrationReplacedByParsedCalls(t *testing.T) {
	parsers := parser.NewRegistry()
	resp := &entity.MessagesResponse{
		Model: "llama3.3",
		Content: []entity.ContentBlock{
			entity.TextBlock("Let me list the files:\n```bash\n$ ls -la\n```"),
		},
		StopReason: entity.StopEndTurn,
	}

	calls := ExtractToolCalls(resp, parsers)
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Name != "Bash" || calls[0].Arguments["command"] != "ls -la" {
		t.Fatalf("parsed call = %+v", calls[0])
	}
	if resp.StopReason != entity.StopToolUse {
		t.Fatalf("stop_reason = %q", resp.StopReason)
	}
	if resp.Text() != "" {
		t.Fatalf("narration leaked into content: %q", resp.Text())
	}
	if len(resp.ToolUses()) != 1 {
		t.Fatalf("content = %+v", resp.Content)
	}
}

func TestExtractToolCalls_PlainTextUntouched(t *testing.T) {
	parsers := parser.NewRegistry()
	resp := entity.NewTextResponse("llama3.3", "Just an answer, no commands.")

	calls := ExtractToolCalls(resp, parsers)
	if calls != nil {
		t.Fatalf("calls = %+v", calls)
	}
	if resp.Text() != "Just an answer, no commands." {
		t.Fatalf("content changed: %q", resp.Text())
	}
	if resp.StopReason != entity.StopEndTurn {
		t.Fatalf("stop_reason = %q", resp.StopReason)
	}
}
