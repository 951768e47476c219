package entity

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message roles. "tool" and "system" appear only inbound (OpenAI-shaped
// clients); the format bridge rewrites them before any provider call.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Content block types. Block ordering inside a message is semantically
// meaningful: a tool_use block must precede its matching tool_result in a
// later message.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
	BlockThinking   = "thinking"
)

// ContentBlock is the tagged variant every layer of the gateway speaks.
// Exactly one group of fields is meaningful per Type.
type ContentBlock struct {
	Type string `json:"type"`

	// type "text"
	Text string `json:"text,omitempty"`

	// type "tool_use" (assistant requesting a tool call)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type "tool_result" (tool output folded back into a user message)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// type "image"
	Source map[string]any `json:"source,omitempty"`

	// type "thinking"
	Thinking string `json:"thinking,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one conversation message in canonical form. Content always
// holds blocks internally; the wire form may be a bare string, which
// UnmarshalJSON normalises into a single text block.
//
// ToolCallID only appears on inbound role:"tool" messages from
// OpenAI-shaped clients; the format bridge folds those into user messages
// with tool_result blocks before anything downstream sees them.
type Message struct {
	Role       string    `json:"role"`
	Content    BlockList `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// BlockList carries a message's content blocks and absorbs the two wire
// encodings Anthropic clients send: a JSON string or an array of blocks.
type BlockList []ContentBlock

func (bl *BlockList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*bl = nil
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*bl = BlockList{TextBlock(s)}
		return nil
	}
	var raw []rawBlock
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for _, rb := range raw {
		blocks = append(blocks, rb.toBlock())
	}
	*bl = blocks
	return nil
}

// rawBlock tolerates tool_result content arriving as a string or as a
// nested block array (both are legal on the Anthropic wire). Nested arrays
// are flattened to their concatenated text.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	Source    map[string]any  `json:"source"`
	Thinking  string          `json:"thinking"`
}

func (rb rawBlock) toBlock() ContentBlock {
	b := ContentBlock{
		Type:      rb.Type,
		Text:      rb.Text,
		ID:        rb.ID,
		Name:      rb.Name,
		Input:     rb.Input,
		ToolUseID: rb.ToolUseID,
		IsError:   rb.IsError,
		Source:    rb.Source,
		Thinking:  rb.Thinking,
	}
	if len(rb.Content) > 0 {
		b.Content = flattenResultContent(rb.Content)
	}
	return b
}

func flattenResultContent(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return s
		}
		return string(trimmed)
	}
	if trimmed[0] == '[' {
		var parts []rawBlock
		if json.Unmarshal(trimmed, &parts) == nil {
			var sb strings.Builder
			for _, p := range parts {
				if p.Type == BlockText || p.Type == "" {
					if sb.Len() > 0 {
						sb.WriteString("\n")
					}
					sb.WriteString(p.Text)
				}
			}
			return sb.String()
		}
	}
	return string(trimmed)
}

// NewTextMessage wraps a plain string into a canonical message.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: BlockList{TextBlock(text)}}
}

// Text concatenates the message's text blocks with newlines.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// FlatText renders the whole message as one string for coalescing and
// summaries: text blocks verbatim, tool blocks as compact markers.
func (m Message) FlatText() string {
	var parts []string
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case BlockToolUse:
			parts = append(parts, "[tool_use: "+b.Name+"]")
		case BlockToolResult:
			parts = append(parts, b.Content)
		case BlockThinking:
			// thinking never survives flattening
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the message's tool_use blocks in order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResults returns the message's tool_result blocks in order.
func (m Message) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// HasText reports whether any text block carries non-whitespace content.
func (m Message) HasText() bool {
	for _, b := range m.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// CloneMessages deep-copies a message slice so shaping passes can mutate
// freely without aliasing the caller's payload.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		blocks := make(BlockList, len(m.Content))
		copy(blocks, m.Content)
		for j := range blocks {
			if blocks[j].Input != nil {
				input := make(map[string]any, len(blocks[j].Input))
				for k, v := range blocks[j].Input {
					input[k] = v
				}
				blocks[j].Input = input
			}
		}
		out[i] = Message{Role: m.Role, Content: blocks, ToolCallID: m.ToolCallID}
	}
	return out
}
