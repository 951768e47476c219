package entity

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Request modes. Main is the normal conversational path; the others are
// internal side-channels that skip parts of the pipeline.
const (
	ModeMain          = "main"
	ModeSuggestion    = "suggestion"
	ModeTopic         = "topic"
	ModeToolExecution = "tool_execution"
)

// Tool is the canonical tool definition {name, description, input_schema}.
// Provider wire forms are derived by the format bridge.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// EnsureObjectSchema guarantees the schema is a well-formed JSON-Schema
// object; providers reject tools whose schema lacks "type".
func (t Tool) EnsureObjectSchema() map[string]any {
	if t.InputSchema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	out := make(map[string]any, len(t.InputSchema))
	for k, v := range t.InputSchema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// MessagesRequest is the Anthropic-shaped request the gateway terminates.
// The unexported-looking underscore fields are internal annotations that
// flow through the pipeline but are never serialised back out.
type MessagesRequest struct {
	Model         string       `json:"model"`
	Messages      []Message    `json:"messages"`
	System        SystemPrompt `json:"system,omitempty"`
	Tools         []Tool       `json:"tools,omitempty"`
	ToolChoice    map[string]any `json:"tool_choice,omitempty"`
	MaxTokens     int          `json:"max_tokens,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
	MaxSteps      int          `json:"max_steps,omitempty"`
	MaxDurationMs int          `json:"max_duration_ms,omitempty"`

	// Session correlation fallbacks accepted in the body.
	SessionID      string `json:"session_id,omitempty"`
	SessionIDAlt   string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Internal annotations (never leave the boundary).
	RequestMode     string `json:"-"`
	NoToolInjection bool   `json:"-"`
	InvokeTextRetry int    `json:"-"`
	LetMeSynthetic  bool   `json:"-"`
}

// BodySessionID returns the first session id present among the body
// fallback fields, in the documented precedence order.
func (r *MessagesRequest) BodySessionID() string {
	for _, id := range []string{r.SessionID, r.SessionIDAlt, r.ConversationID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// Mode returns the request mode, defaulting to main.
func (r *MessagesRequest) Mode() string {
	if r.RequestMode == "" {
		return ModeMain
	}
	return r.RequestMode
}

// HasTools reports whether the payload binds any tools.
func (r *MessagesRequest) HasTools() bool {
	return len(r.Tools) > 0
}

// LastMessage returns the final message, or a zero Message when empty.
func (r *MessagesRequest) LastMessage() Message {
	if len(r.Messages) == 0 {
		return Message{}
	}
	return r.Messages[len(r.Messages)-1]
}

// LastUserText returns the text of the most recent user message that
// carries non-empty text, scanning backwards.
func (r *MessagesRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		m := r.Messages[i]
		if m.Role == RoleUser && m.HasText() {
			return m.Text()
		}
	}
	return ""
}

// SystemPrompt absorbs the two wire encodings of the system field: a plain
// string or an array of {type:"text"} blocks. Canonically it is one string.
type SystemPrompt string

func (sp *SystemPrompt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*sp = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*sp = SystemPrompt(s)
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return err
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	*sp = SystemPrompt(strings.Join(parts, "\n\n"))
	return nil
}

func (sp SystemPrompt) String() string {
	return string(sp)
}
