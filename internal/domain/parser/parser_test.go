package parser

import (
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// === Registry Tests ===

func TestRegistry_ForModel(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		model string
		want  string
	}{
		{"llama3.3:70b", "llama"},
		{"qwen2.5-coder:32b", "qwen"},
		{"QwQ-32B", "qwen"},
		{"glm-4-plus", "glm"},
		{"deepseek-v3", "deepseek"},
		{"kimi-k2-cloud", "kimi"},
		{"nemotron-70b", "nemotron"},
		{"MiniMax-M1", "minimax"},
		{"gpt-oss:20b", "gpt-oss"},
		{"claude-sonnet-4", "generic"},
	}
	for _, tc := range cases {
		if got := r.ForModel(tc.model).Name(); got != tc.want {
			t.Errorf("ForModel(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

// === GenericToolParser Tests ===

func TestGeneric_FencedShellBlock(t *testing.T) {
	p := NewGenericToolParser()
	text := "Let me check the files:\n```bash\n$ ls -la\n# cat main.go\n```\ndone"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "Bash" || calls[0].Arguments["command"] != "ls -la" {
		t.Fatalf("sigil not stripped: %+v", calls[0].Arguments)
	}
	if calls[1].Arguments["command"] != "cat main.go" {
		t.Fatalf("hash sigil not stripped: %+v", calls[1].Arguments)
	}
}

func TestGeneric_BulletMarkers(t *testing.T) {
	p := NewGenericToolParser()
	text := "```sh\n- npm install\n1. npm test\n```"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Arguments["command"] != "npm install" || calls[1].Arguments["command"] != "npm test" {
		t.Fatalf("bullets not stripped: %+v %+v", calls[0].Arguments, calls[1].Arguments)
	}
}

func TestGeneric_NoShellBlocks(t *testing.T) {
	p := NewGenericToolParser()
	if calls := p.ExtractToolCallsFromText("plain prose without code"); calls != nil {
		t.Fatalf("expected nil, got %v", calls)
	}
	if calls := p.ExtractToolCallsFromText("```python\nprint(1)\n```"); calls != nil {
		t.Fatalf("python fence should not parse, got %v", calls)
	}
}

func TestGeneric_CleanArgumentsReparsesJSONLeaves(t *testing.T) {
	p := NewGenericToolParser()
	call := p.CleanArguments(callWith(map[string]any{
		"filter": `{"status":"open","tags":["a","b"]}`,
		"plain":  "hello",
	}))
	m, ok := call.Arguments["filter"].(map[string]any)
	if !ok {
		t.Fatalf("stringified object should re-parse, got %T", call.Arguments["filter"])
	}
	if m["status"] != "open" {
		t.Fatalf("nested value lost: %+v", m)
	}
	if call.Arguments["plain"] != "hello" {
		t.Fatal("plain strings must pass through untouched")
	}
}

func TestGeneric_CleanArgumentsDoubleStringified(t *testing.T) {
	p := NewGenericToolParser()
	call := p.CleanArguments(callWith(map[string]any{
		"payload": `{"inner":"{\"deep\":1}"}`,
	}))
	outer := call.Arguments["payload"].(map[string]any)
	inner, ok := outer["inner"].(map[string]any)
	if !ok {
		t.Fatalf("doubly stringified leaf should recurse, got %T", outer["inner"])
	}
	if inner["deep"].(float64) != 1 {
		t.Fatalf("deep value lost: %+v", inner)
	}
}

// === Family Parser Tests ===

func TestLlama_FunctionTag(t *testing.T) {
	p := NewLlamaParser()
	calls := p.ExtractToolCallsFromText(`<function=Read>{"file_path":"a.txt"}</function>`)
	if len(calls) != 1 || calls[0].Name != "Read" || calls[0].Arguments["file_path"] != "a.txt" {
		t.Fatalf("got %+v", calls)
	}
}

func TestQwen_ToolCallTag(t *testing.T) {
	p := NewQwenParser()
	text := "I will read it.\n<tool_call>\n{\"name\":\"Read\",\"arguments\":{\"file_path\":\"a.txt\"}}\n</tool_call>"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "Read" {
		t.Fatalf("got %+v", calls)
	}
}

func TestGLM_NameOnOwnLine(t *testing.T) {
	p := NewGLMParser()
	text := "<tool_call>Grep\n{\"pattern\":\"TODO\"}</tool_call>"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "Grep" || calls[0].Arguments["pattern"] != "TODO" {
		t.Fatalf("got %+v", calls)
	}
}

func TestDeepSeek_FencedJSON(t *testing.T) {
	p := NewDeepSeekParser()
	text := "```json\n{\"name\":\"Glob\",\"arguments\":{\"pattern\":\"*.go\"}}\n```"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "Glob" {
		t.Fatalf("got %+v", calls)
	}
}

func TestKimi_SectionMarkers(t *testing.T) {
	p := NewKimiParser()
	text := `<|tool_call_begin|>functions.Read:0<|tool_call_argument_begin|>{"file_path":"x"}<|tool_call_end|>`
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "Read" || calls[0].Arguments["file_path"] != "x" {
		t.Fatalf("got %+v", calls)
	}
}

func TestNemotron_ToolcallArray(t *testing.T) {
	p := NewNemotronParser()
	text := `<TOOLCALL>[{"name":"Ls","arguments":{"path":"."}},{"name":"Read","arguments":{"file_path":"go.mod"}}]</TOOLCALL>`
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 2 || calls[1].Name != "Read" {
		t.Fatalf("got %+v", calls)
	}
}

func TestMiniMax_Block(t *testing.T) {
	p := NewMiniMaxParser()
	text := "<minimax:tool_call>\n{\"name\":\"WebSearch\",\"arguments\":{\"query\":\"go generics\"}}\n</minimax:tool_call>"
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "WebSearch" {
		t.Fatalf("got %+v", calls)
	}
}

func TestGptOss_HarmonyChannel(t *testing.T) {
	p := NewGptOssParser()
	text := `<|channel|>commentary to=functions.Bash <|constrain|>json<|message|>{"command":"ls"}<|call|>`
	calls := p.ExtractToolCallsFromText(text)
	if len(calls) != 1 || calls[0].Name != "Bash" || calls[0].Arguments["command"] != "ls" {
		t.Fatalf("got %+v", calls)
	}
}

func TestFamilies_FallBackToGeneric(t *testing.T) {
	text := "```bash\nls\n```"
	for _, p := range []Parser{NewLlamaParser(), NewQwenParser(), NewDeepSeekParser(), NewKimiParser()} {
		calls := p.ExtractToolCallsFromText(text)
		if len(calls) != 1 || calls[0].Name != "Bash" {
			t.Fatalf("%s should fall back to fenced shell, got %+v", p.Name(), calls)
		}
	}
}

func callWith(args map[string]any) entity.ToolCall {
	return entity.ToolCall{ID: "tc1", Name: "Test", Arguments: args}
}
