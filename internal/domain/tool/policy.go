package tool

import (
	"fmt"
	"regexp"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Policy admission codes.
const (
	PolicyCodeBlocked      = "tool_blocked"
	PolicyCodeCallCap      = "max_tool_calls_exceeded"
	PolicyCodeUnregistered = "tool_not_registered"
)

// Decision is the outcome of evaluating one tool call.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
	Status  int
}

// Policy gates tool execution and sanitises assistant content. A denied
// call becomes an is_error tool_result; the loop always continues past it.
type Policy struct {
	AllowList              []string
	DenyList               []string
	MaxToolCallsPerRequest int
	BlockedContentPatterns []*regexp.Regexp

	registry *Registry
}

// NewPolicy builds a policy bound to a registry for alias resolution.
func NewPolicy(registry *Registry, allow, deny []string, maxCalls int) *Policy {
	return &Policy{
		AllowList:              allow,
		DenyList:               deny,
		MaxToolCallsPerRequest: maxCalls,
		registry:               registry,
	}
}

// Evaluate admits or denies a call given how many calls this request has
// already executed.
func (p *Policy) Evaluate(call entity.ToolCall, toolCallsExecuted int) Decision {
	if p.MaxToolCallsPerRequest > 0 && toolCallsExecuted >= p.MaxToolCallsPerRequest {
		return Decision{
			Code:   PolicyCodeCallCap,
			Reason: fmt.Sprintf("request already executed %d tool calls (limit %d)", toolCallsExecuted, p.MaxToolCallsPerRequest),
			Status: 500,
		}
	}

	name := call.Name
	if p.registry != nil {
		name = p.registry.Canonical(call.Name)
	}

	for _, denied := range p.DenyList {
		if denied == name {
			return Decision{
				Code:   PolicyCodeBlocked,
				Reason: fmt.Sprintf("tool %q is denied by policy", name),
				Status: 403,
			}
		}
	}

	if len(p.AllowList) > 0 {
		for _, allowed := range p.AllowList {
			if allowed == name {
				return Decision{Allowed: true}
			}
		}
		return Decision{
			Code:   PolicyCodeBlocked,
			Reason: fmt.Sprintf("tool %q is not in the allow list", name),
			Status: 403,
		}
	}

	return Decision{Allowed: true}
}

// DenialResult renders a denial as the canonical error tool result. The
// content is the {error, message} object clients are told to expect.
func (d Decision) DenialResult(call entity.ToolCall) entity.ToolResult {
	content := fmt.Sprintf(`{"error":%q,"message":%q}`, d.Code, d.Reason)
	return entity.ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		OK:      false,
		Status:  d.Status,
		Content: content,
		Metadata: map[string]any{
			"policy_code": d.Code,
		},
	}
}

// SanitiseContent rewrites assistant content blocks before they leave the
// loop: text matching a blocked pattern is replaced, and tool_use blocks
// for denied tools are dropped.
func (p *Policy) SanitiseContent(blocks []entity.ContentBlock) []entity.ContentBlock {
	out := make([]entity.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case entity.BlockText:
			for _, re := range p.BlockedContentPatterns {
				if re.MatchString(b.Text) {
					b.Text = re.ReplaceAllString(b.Text, "[removed by policy]")
				}
			}
			out = append(out, b)
		case entity.BlockToolUse:
			if d := p.Evaluate(entity.ToolCall{Name: b.Name}, 0); !d.Allowed && d.Code == PolicyCodeBlocked {
				continue
			}
			out = append(out, b)
		default:
			out = append(out, b)
		}
	}
	return out
}
