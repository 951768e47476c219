package parser

import (
	"regexp"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Family parsers. Each embeds the generic parser and tries its family
// markup first; fenced-shell extraction remains the fallback so a family
// model that narrates plain shell still parses.

// --- Llama ---

// LlamaParser handles `<function=name>{args}</function>` markup and bare
// single-object JSON lines with name/parameters keys.
type LlamaParser struct {
	*GenericToolParser
}

func NewLlamaParser() *LlamaParser {
	return &LlamaParser{GenericToolParser: NewGenericToolParser()}
}

var llamaFuncRe = regexp.MustCompile(`(?s)<function=([\w.-]+)>(.*?)</function>`)

func (p *LlamaParser) Name() string { return "llama" }

func (p *LlamaParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range llamaFuncRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(`{"name":"` + m[1] + `","arguments":` + ensureJSONObject(m[2]) + `}`); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		calls = extractBareJSONCalls(text)
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- Qwen ---

// QwenParser handles Hermes-style `<tool_call>{json}</tool_call>` blocks.
type QwenParser struct {
	*GenericToolParser
}

func NewQwenParser() *QwenParser {
	return &QwenParser{GenericToolParser: NewGenericToolParser()}
}

var toolCallTagRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

func (p *QwenParser) Name() string { return "qwen" }

func (p *QwenParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range toolCallTagRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(m[1]); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- GLM ---

// GLMParser handles `<tool_call>name\n{json}</tool_call>` blocks where the
// function name sits on its own line before the argument object.
type GLMParser struct {
	*GenericToolParser
}

func NewGLMParser() *GLMParser {
	return &GLMParser{GenericToolParser: NewGenericToolParser()}
}

var glmBlockRe = regexp.MustCompile(`(?s)<tool_call>\s*([\w.-]+)\s*\n\s*(\{.*?\})\s*</tool_call>`)

func (p *GLMParser) Name() string { return "glm" }

func (p *GLMParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range glmBlockRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(`{"name":"` + m[1] + `","arguments":` + m[2] + `}`); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		// GLM also emits the Hermes shape.
		for _, m := range toolCallTagRe.FindAllStringSubmatch(text, -1) {
			if call, ok := decodeCallJSON(m[1]); ok {
				calls = append(calls, call)
			}
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- DeepSeek ---

// DeepSeekParser handles fenced ```json blocks carrying name/arguments
// objects; DeepSeek narrates calls that way when it skips native calling.
type DeepSeekParser struct {
	*GenericToolParser
}

func NewDeepSeekParser() *DeepSeekParser {
	return &DeepSeekParser{GenericToolParser: NewGenericToolParser()}
}

var fencedJSONRe = regexp.MustCompile("(?s)```json[ \\t]*\\n(.*?)```")

func (p *DeepSeekParser) Name() string { return "deepseek" }

func (p *DeepSeekParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(strings.TrimSpace(m[1])); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- Kimi ---

// KimiParser handles `<|tool_call_begin|> functions.name <|tool_call_argument_begin|>
// {json} <|tool_call_end|>` section markup.
type KimiParser struct {
	*GenericToolParser
}

func NewKimiParser() *KimiParser {
	return &KimiParser{GenericToolParser: NewGenericToolParser()}
}

var kimiCallRe = regexp.MustCompile(`(?s)<\|tool_call_begin\|>\s*(?:functions\.)?([\w.-]+)(?::\d+)?\s*<\|tool_call_argument_begin\|>\s*(\{.*?\})\s*<\|tool_call_end\|>`)

func (p *KimiParser) Name() string { return "kimi" }

func (p *KimiParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range kimiCallRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(`{"name":"` + m[1] + `","arguments":` + m[2] + `}`); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- Nemotron ---

// NemotronParser handles `<TOOLCALL>[{json}, …]</TOOLCALL>` arrays.
type NemotronParser struct {
	*GenericToolParser
}

func NewNemotronParser() *NemotronParser {
	return &NemotronParser{GenericToolParser: NewGenericToolParser()}
}

var nemotronRe = regexp.MustCompile(`(?s)<TOOLCALL>\s*(\[.*?\])\s*</TOOLCALL>`)
var jsonObjectRe = regexp.MustCompile(`(?s)\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

func (p *NemotronParser) Name() string { return "nemotron" }

func (p *NemotronParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range nemotronRe.FindAllStringSubmatch(text, -1) {
		for _, obj := range jsonObjectRe.FindAllString(m[1], -1) {
			if call, ok := decodeCallJSON(obj); ok {
				calls = append(calls, call)
			}
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- MiniMax ---

// MiniMaxParser handles `<minimax:tool_call>` blocks with one JSON call
// object per line.
type MiniMaxParser struct {
	*GenericToolParser
}

func NewMiniMaxParser() *MiniMaxParser {
	return &MiniMaxParser{GenericToolParser: NewGenericToolParser()}
}

var minimaxBlockRe = regexp.MustCompile(`(?s)<minimax:tool_call>(.*?)</minimax:tool_call>`)

func (p *MiniMaxParser) Name() string { return "minimax" }

func (p *MiniMaxParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range minimaxBlockRe.FindAllStringSubmatch(text, -1) {
		for _, obj := range jsonObjectRe.FindAllString(m[1], -1) {
			if call, ok := decodeCallJSON(obj); ok {
				calls = append(calls, call)
			}
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- GPT-OSS ---

// GptOssParser handles harmony-channel markup:
// `to=functions.name … <|message|>{json}` optionally ending in <|call|>.
type GptOssParser struct {
	*GenericToolParser
}

func NewGptOssParser() *GptOssParser {
	return &GptOssParser{GenericToolParser: NewGenericToolParser()}
}

var gptOssRe = regexp.MustCompile(`(?s)to=functions\.([\w.-]+)[^<]*<\|message\|>\s*(\{.*?\})\s*(?:<\|call\|>|$)`)

func (p *GptOssParser) Name() string { return "gpt-oss" }

func (p *GptOssParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, m := range gptOssRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCallJSON(`{"name":"` + m[1] + `","arguments":` + m[2] + `}`); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return p.GenericToolParser.ExtractToolCallsFromText(text)
	}
	return calls
}

// --- shared helpers ---

// extractBareJSONCalls finds standalone {"name": …} objects outside any
// markup. Llama emits these when prompted for JSON tool use.
func extractBareJSONCalls(text string) []entity.ToolCall {
	var calls []entity.ToolCall
	for _, obj := range jsonObjectRe.FindAllString(text, -1) {
		if !strings.Contains(obj, `"name"`) {
			continue
		}
		if call, ok := decodeCallJSON(obj); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// ensureJSONObject wraps a fragment so decodeCallJSON always receives an
// object for the arguments slot.
func ensureJSONObject(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "{}"
	}
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	return "{}"
}
