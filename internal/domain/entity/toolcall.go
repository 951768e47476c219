package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ToolCall is the canonical in-core tool invocation: parsed arguments plus
// the raw argument text as the provider sent it.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Raw       string         `json:"raw,omitempty"`
}

// ToolResult is the canonical outcome of one tool execution.
type ToolResult struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	OK       bool           `json:"ok"`
	Status   int            `json:"status,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Signature returns the loop-detection signature: the first 16 hex chars of
// sha256 over the name and the stably-serialised arguments. Identical calls
// hash identically regardless of map iteration order.
func (tc ToolCall) Signature() string {
	sum := sha256.Sum256([]byte(tc.Name + stableJSON(tc.Arguments)))
	return hex.EncodeToString(sum[:])[:16]
}

// stableJSON serialises a value with sorted object keys at every level.
func stableJSON(v any) string {
	var sb strings.Builder
	writeStable(&sb, v)
	return sb.String()
}

func writeStable(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeStable(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeStable(sb, item)
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			sb.WriteString("null")
			return
		}
		sb.Write(b)
	}
}

// ToolUseBlockOf renders a canonical tool_use content block for the call.
func (tc ToolCall) ToolUseBlockOf() ContentBlock {
	return ToolUseBlock(tc.ID, tc.Name, tc.Arguments)
}

// ResultBlock renders the canonical tool_result content block.
func (tr ToolResult) ResultBlock() ContentBlock {
	return ToolResultBlock(tr.ID, tr.Content, !tr.OK)
}
