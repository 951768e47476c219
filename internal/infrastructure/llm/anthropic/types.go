package anthropic

import "github.com/modelgate/modelgate/internal/domain/entity"

// Anthropic Messages API wire types. The canonical in-core message shape
// already matches this dialect, so prepared messages go over the wire
// as-is; only the envelope fields differ.

// Request is the /v1/messages request body.
type Request struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	Messages    []entity.Message `json:"messages"`
	System      string           `json:"system,omitempty"`
	Tools       []Tool           `json:"tools,omitempty"`
	ToolChoice  map[string]any   `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Tool is the native tool definition form.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}
