package entity

import (
	"strings"

	"github.com/google/uuid"
)

// Canonical stop reasons of the Anthropic response shape.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)

// Usage reports token consumption in the canonical response.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// MessagesResponse is the canonical Anthropic-shaped response body. Every
// provider response is normalised into this before the loop inspects it.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	StopSeq    *string        `json:"stop_sequence"`
	Usage      Usage          `json:"usage"`
}

// NewAssistantResponse builds a canonical response around content blocks.
func NewAssistantResponse(model string, blocks []ContentBlock, stopReason string) *MessagesResponse {
	return &MessagesResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       RoleAssistant,
		Model:      model,
		Content:    blocks,
		StopReason: stopReason,
	}
}

// NewTextResponse builds a canonical single-text-block response.
func NewTextResponse(model, text string) *MessagesResponse {
	return NewAssistantResponse(model, []ContentBlock{TextBlock(text)}, StopEndTurn)
}

// Text concatenates the response's text blocks.
func (r *MessagesResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == BlockText && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the response's tool_use blocks in order.
func (r *MessagesResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// HasText reports whether the response carries non-whitespace text.
func (r *MessagesResponse) HasText() bool {
	for _, b := range r.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// AppendText adds a trailing text block, merging into an existing final
// text block when present. Limit warnings use this.
func (r *MessagesResponse) AppendText(text string) {
	if text == "" {
		return
	}
	if n := len(r.Content); n > 0 && r.Content[n-1].Type == BlockText {
		r.Content[n-1].Text += text
		return
	}
	r.Content = append(r.Content, TextBlock(text))
}

// AsMessage converts the response into a conversation message.
func (r *MessagesResponse) AsMessage() Message {
	return Message{Role: RoleAssistant, Content: append(BlockList{}, r.Content...)}
}

// Termination reasons reported by the orchestrator. This set is closed;
// the HTTP layer and audit log treat any other value as a bug.
const (
	TermCompletion           = "completion"
	TermStreaming            = "streaming"
	TermNonJSONResponse      = "non_json_response"
	TermAPIError             = "api_error"
	TermShutdown             = "shutdown"
	TermMaxSteps             = "max_steps"
	TermMaxToolCallsExceeded = "max_tool_calls_exceeded"
	TermToolCallLoop         = "tool_call_loop"
	TermToolLoopGuard        = "tool_loop_guard"
	TermEmptyResponse        = "empty_response_fallback"
	TermProviderUnreachable  = "provider_unreachable"
	TermModelUnavailable     = "model_unavailable"
	TermMalformedResponse    = "malformed_response"
	TermSuggestionModeSkip   = "suggestion_mode_skip"
	TermToolUse              = "tool_use"
)
