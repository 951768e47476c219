package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// GenericToolParser recognises shell commands narrated in fenced code
// blocks. Every model family embeds it; families add their own markup on
// top and fall back to fenced-block extraction.
type GenericToolParser struct{}

// NewGenericToolParser constructs the shared base parser.
func NewGenericToolParser() *GenericToolParser {
	return &GenericToolParser{}
}

// fencedShellRe captures fenced blocks whose info string marks shell
// content. Group 1 is the body.
var fencedShellRe = regexp.MustCompile("(?s)```(?:bash|sh|shell|console|terminal)[ \\t]*\\n(.*?)```")

// bulletRe strips leading list markers from a command line.
var bulletRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)

func (p *GenericToolParser) Name() string { return "generic" }

// ExtractToolCallsFromText turns each shell-fenced block into one Bash
// call per non-empty command line.
func (p *GenericToolParser) ExtractToolCallsFromText(text string) []entity.ToolCall {
	matches := fencedShellRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var calls []entity.ToolCall
	for _, m := range matches {
		for _, line := range strings.Split(m[1], "\n") {
			cmd := CleanCommandLine(line)
			if cmd == "" {
				continue
			}
			calls = append(calls, entity.ToolCall{
				ID:        NewCallID(),
				Name:      "Bash",
				Arguments: map[string]any{"command": cmd},
				Raw:       line,
			})
		}
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

// CleanArguments normalises string arguments: command strings lose shell
// sigils and bullets, and string leaves that look like JSON objects or
// arrays are re-parsed (providers double-stringify nested values).
func (p *GenericToolParser) CleanArguments(call entity.ToolCall) entity.ToolCall {
	if call.Arguments == nil {
		return call
	}
	for k, v := range call.Arguments {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == "command" {
			call.Arguments[k] = CleanCommandLine(s)
			continue
		}
		if parsed, ok := reparseJSONLeaf(s); ok {
			call.Arguments[k] = parsed
		}
	}
	return call
}

// CleanCommandLine strips bullet markers, prompt sigils ($, #) and
// surrounding whitespace from one narrated command line.
func CleanCommandLine(line string) string {
	s := strings.TrimSpace(line)
	s = bulletRe.ReplaceAllString(s, "")
	for strings.HasPrefix(s, "$") || strings.HasPrefix(s, "#") {
		s = strings.TrimSpace(s[1:])
	}
	return s
}

// reparseJSONLeaf attempts to decode a string that looks like a JSON
// object or array, recursing into nested stringified leaves.
func reparseJSONLeaf(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return reparseNested(v), true
}

func reparseNested(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if s, ok := item.(string); ok {
				if parsed, ok := reparseJSONLeaf(s); ok {
					val[k] = parsed
					continue
				}
			}
			val[k] = reparseNested(item)
		}
		return val
	case []any:
		for i, item := range val {
			if s, ok := item.(string); ok {
				if parsed, ok := reparseJSONLeaf(s); ok {
					val[i] = parsed
					continue
				}
			}
			val[i] = reparseNested(item)
		}
		return val
	default:
		return v
	}
}

// NewCallID mints a tool_use id for a parsed call.
func NewCallID() string {
	return "toolu_" + uuid.NewString()
}

// decodeCallJSON parses one {"name": …, "arguments"|"parameters": …}
// object into a ToolCall. Families share it.
func decodeCallJSON(raw string) (entity.ToolCall, bool) {
	var payload struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Name == "" {
		return entity.ToolCall{}, false
	}
	argsRaw := payload.Arguments
	if len(argsRaw) == 0 {
		argsRaw = payload.Parameters
	}
	args := map[string]any{}
	if len(argsRaw) > 0 {
		// Arguments may be an object or a stringified object.
		if err := json.Unmarshal(argsRaw, &args); err != nil {
			var s string
			if json.Unmarshal(argsRaw, &s) == nil {
				if parsed, ok := reparseJSONLeaf(s); ok {
					if m, ok := parsed.(map[string]any); ok {
						args = m
					}
				}
			}
		}
	}
	return entity.ToolCall{
		ID:        NewCallID(),
		Name:      payload.Name,
		Arguments: args,
		Raw:       raw,
	}, true
}
