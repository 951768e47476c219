package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/parser"
)

// The format bridge: canonical Anthropic-shaped payloads in, provider
// dialects out, and every provider response normalised back into the
// canonical shape before the loop inspects it. Provider sub-packages build
// their wire requests on top of PrepareMessages; response parsing lives
// here so clients stay dumb.

// PrepareMessages shapes a payload for an Anthropic-dialect call: system
// messages are lifted into the returned system string, OpenAI-style tool
// messages are re-encoded as tool_result blocks inside user messages,
// empty messages are dropped, and consecutive same-role messages are
// coalesced. The request itself is not mutated.
func PrepareMessages(req *entity.MessagesRequest) (string, []entity.Message) {
	systemParts := make([]string, 0, 2)
	if s := req.System.String(); s != "" {
		systemParts = append(systemParts, s)
	}

	msgs := make([]entity.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case entity.RoleSystem:
			if t := m.FlatText(); strings.TrimSpace(t) != "" {
				systemParts = append(systemParts, t)
			}
		case entity.RoleTool:
			msgs = append(msgs, entity.Message{
				Role:    entity.RoleUser,
				Content: entity.BlockList{entity.ToolResultBlock(m.ToolCallID, m.FlatText(), false)},
			})
		default:
			if len(m.Content) == 0 {
				continue
			}
			msgs = append(msgs, m)
		}
	}

	return strings.Join(systemParts, "\n\n"), CoalesceSameRole(msgs)
}

// CoalesceSameRole merges runs of same-role messages. Adjacent text blocks
// join with a blank line; tool blocks are carried over untouched. Several
// backends reject non-alternating conversations outright.
func CoalesceSameRole(msgs []entity.Message) []entity.Message {
	if len(msgs) < 2 {
		return msgs
	}
	out := make([]entity.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			prev := &out[len(out)-1]
			prev.Content = mergeBlockLists(prev.Content, m.Content)
			continue
		}
		out = append(out, entity.Message{Role: m.Role, Content: append(entity.BlockList{}, m.Content...)})
	}
	return out
}

func mergeBlockLists(dst, src entity.BlockList) entity.BlockList {
	for _, blk := range src {
		if blk.Type == entity.BlockText && len(dst) > 0 && dst[len(dst)-1].Type == entity.BlockText {
			dst[len(dst)-1].Text += "\n\n" + blk.Text
			continue
		}
		dst = append(dst, blk)
	}
	return dst
}

// MapOpenAIFinishReason maps a chat-completions finish_reason onto the
// canonical stop_reason set.
func MapOpenAIFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "stop":
		return entity.StopEndTurn
	case "length":
		return entity.StopMaxTokens
	case "tool_calls", "function_call":
		return entity.StopToolUse
	}
	if hasToolCalls {
		return entity.StopToolUse
	}
	return entity.StopEndTurn
}

// MapGeminiFinishReason maps a generateContent finishReason onto the
// canonical stop_reason set.
func MapGeminiFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return entity.StopToolUse
	}
	switch reason {
	case "MAX_TOKENS":
		return entity.StopMaxTokens
	default:
		return entity.StopEndTurn
	}
}

// Normalize converts a provider envelope into the canonical response
// shape. The dialect is sniffed from the body structure, not the provider
// name, so OpenAI-compatible gateways and Anthropic-compatible Ollama
// routes normalise correctly regardless of which client produced them.
func Normalize(resp *Response, fallbackModel string) (*entity.MessagesResponse, error) {
	if resp == nil {
		return nil, NewMalformed("", 0, errors.New("nil provider response"))
	}
	provider := resp.ActualProvider
	if resp.JSON == nil {
		return nil, NewMalformed(provider, resp.Status,
			fmt.Errorf("non-JSON body (content-type %q)", resp.ContentType))
	}

	raw := resp.RawBody()
	switch {
	case hasKey(resp.JSON, "choices"):
		return normalizeOpenAI(provider, raw, fallbackModel)
	case hasKey(resp.JSON, "candidates"):
		return normalizeGemini(provider, raw, fallbackModel)
	case hasKey(resp.JSON, "content") && hasKey(resp.JSON, "role"):
		return normalizeAnthropic(provider, raw, fallbackModel)
	default:
		return nil, NewMalformed(provider, resp.Status, errors.New("unrecognised response shape"))
	}
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// --- OpenAI chat-completions wire shape ---

type oaWireResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []oaWireChoice `json:"choices"`
	Usage   oaWireUsage    `json:"usage"`
}

type oaWireChoice struct {
	Message      oaWireMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type oaWireMessage struct {
	Role      string           `json:"role"`
	Content   json.RawMessage  `json:"content"`
	ToolCalls []oaWireToolCall `json:"tool_calls"`
}

type oaWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func normalizeOpenAI(provider string, raw []byte, fallbackModel string) (*entity.MessagesResponse, error) {
	var wire oaWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewMalformed(provider, 0, fmt.Errorf("decode chat completion: %w", err))
	}
	if len(wire.Choices) == 0 {
		return nil, NewMalformed(provider, 0, errors.New("empty response: no choices"))
	}

	choice := wire.Choices[0]
	var blocks []entity.ContentBlock
	if text := StripThinkBlocks(flattenWireContent(choice.Message.Content)); text != "" {
		blocks = append(blocks, entity.TextBlock(text))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = parser.NewCallID()
		}
		blocks = append(blocks, entity.ToolUseBlock(id, tc.Function.Name, parseWireArguments(tc.Function.Arguments)))
	}

	model := wire.Model
	if model == "" {
		model = fallbackModel
	}
	return &entity.MessagesResponse{
		ID:         canonicalMessageID(wire.ID),
		Type:       "message",
		Role:       entity.RoleAssistant,
		Model:      model,
		Content:    blocks,
		StopReason: MapOpenAIFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
		Usage: entity.Usage{
			InputTokens:  firstNonZero(wire.Usage.PromptTokens, wire.Usage.InputTokens),
			OutputTokens: firstNonZero(wire.Usage.CompletionTokens, wire.Usage.OutputTokens),
		},
	}, nil
}

// flattenWireContent absorbs the content encodings OpenAI-compatible
// servers emit: null, a plain string, or an array of typed parts.
func flattenWireContent(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return s
		}
		return ""
	}
	if trimmed[0] == '[' {
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if json.Unmarshal(trimmed, &parts) == nil {
			var sb strings.Builder
			for _, p := range parts {
				if p.Text == "" {
					continue
				}
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(p.Text)
			}
			return sb.String()
		}
	}
	return string(trimmed)
}

// parseWireArguments decodes a tool-call argument string, tolerating
// doubly-stringified JSON. Arguments that refuse to parse survive under a
// "_raw" key so the executor can retry with its own tolerant parser.
func parseWireArguments(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return map[string]any{}
	}
	var m map[string]any
	if json.Unmarshal([]byte(s), &m) == nil {
		return m
	}
	var inner string
	if json.Unmarshal([]byte(s), &inner) == nil {
		if json.Unmarshal([]byte(inner), &m) == nil {
			return m
		}
	}
	return map[string]any{"_raw": s}
}

func canonicalMessageID(wireID string) string {
	if wireID != "" {
		return wireID
	}
	return "msg_" + uuid.NewString()
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// --- Anthropic messages wire shape (already canonical) ---

func normalizeAnthropic(provider string, raw []byte, fallbackModel string) (*entity.MessagesResponse, error) {
	var mr entity.MessagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return nil, NewMalformed(provider, 0, fmt.Errorf("decode messages response: %w", err))
	}

	kept := mr.Content[:0]
	for _, b := range mr.Content {
		if b.Type == entity.BlockText {
			b.Text = StripThinkBlocks(b.Text)
			if b.Text == "" {
				continue
			}
		}
		kept = append(kept, b)
	}
	mr.Content = kept

	if mr.ID == "" {
		mr.ID = "msg_" + uuid.NewString()
	}
	if mr.Type == "" {
		mr.Type = "message"
	}
	if mr.Role == "" {
		mr.Role = entity.RoleAssistant
	}
	if mr.Model == "" {
		mr.Model = fallbackModel
	}
	if mr.StopReason == "" {
		if len(mr.ToolUses()) > 0 {
			mr.StopReason = entity.StopToolUse
		} else {
			mr.StopReason = entity.StopEndTurn
		}
	}
	return &mr, nil
}

// --- Gemini generateContent wire shape ---

type gmWireResponse struct {
	Candidates []struct {
		Content struct {
			Role  string `json:"role"`
			Parts []struct {
				Text         string `json:"text"`
				Thought      bool   `json:"thought"`
				FunctionCall *struct {
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func normalizeGemini(provider string, raw []byte, fallbackModel string) (*entity.MessagesResponse, error) {
	var wire gmWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewMalformed(provider, 0, fmt.Errorf("decode generateContent response: %w", err))
	}
	if len(wire.Candidates) == 0 {
		return nil, NewMalformed(provider, 0, errors.New("empty response: no candidates"))
	}

	cand := wire.Candidates[0]
	var blocks []entity.ContentBlock
	hasCalls := false
	for _, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			hasCalls = true
			blocks = append(blocks, entity.ToolUseBlock(parser.NewCallID(), part.FunctionCall.Name, part.FunctionCall.Args))
			continue
		}
		if part.Thought {
			continue
		}
		if text := StripThinkBlocks(part.Text); text != "" {
			blocks = append(blocks, entity.TextBlock(text))
		}
	}

	model := wire.ModelVersion
	if model == "" {
		model = fallbackModel
	}
	return &entity.MessagesResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       entity.RoleAssistant,
		Model:      model,
		Content:    blocks,
		StopReason: MapGeminiFinishReason(cand.FinishReason, hasCalls),
		Usage: entity.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// --- Tool-call extraction ---

// ExtractToolCalls returns the canonical tool calls of a normalised
// response. Native tool_use blocks win; when a model narrated its calls as
// text instead, the per-model parser extracts them and the parsed calls
// replace the narration in the response content, so downstream consumers
// never see the prose form.
func ExtractToolCalls(resp *entity.MessagesResponse, parsers *parser.Registry) []entity.ToolCall {
	if resp == nil {
		return nil
	}

	var calls []entity.ToolCall
	for i := range resp.Content {
		b := &resp.Content[i]
		if b.Type != entity.BlockToolUse {
			continue
		}
		if b.ID == "" {
			b.ID = parser.NewCallID()
		}
		calls = append(calls, entity.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
	}
	if len(calls) > 0 {
		return calls
	}

	if parsers == nil {
		return nil
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	p := parsers.ForModel(resp.Model)
	extracted := p.ExtractToolCallsFromText(text)
	if len(extracted) == 0 {
		return nil
	}

	blocks := make([]entity.ContentBlock, 0, len(extracted))
	for i := range extracted {
		extracted[i] = p.CleanArguments(extracted[i])
		if extracted[i].ID == "" {
			extracted[i].ID = parser.NewCallID()
		}
		blocks = append(blocks, extracted[i].ToolUseBlockOf())
	}
	resp.Content = blocks
	resp.StopReason = entity.StopToolUse
	return extracted
}
