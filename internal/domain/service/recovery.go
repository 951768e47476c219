package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
	domainparser "github.com/modelgate/modelgate/internal/domain/parser"
)

// Recovery nudges. Models that narrate tool use without emitting tool_use
// blocks get one of these injected as the next user turn.
const (
	emptyResponseNudge = "Please provide a response to the user's request."
	invokeTextNudge    = "You described calling tools but did not call them. Call the tools now using the tool-use format, or answer directly without mentioning tools."

	cannedEmptyResponse = "I wasn't able to generate a response. Please try again or rephrase your request."

	classifierQuestion = "Does the following response indicate intent to call a tool but not actually do so? Answer YES or NO."
)

// Agent types for auto-spawned subagents. Read-only narrations explore;
// anything that mutates gets the general-purpose agent.
const (
	agentTypeExplore = "Explore"
	agentTypeGeneral = "general-purpose"
)

var (
	intentNarrationRe = regexp.MustCompile(`(?i)Invoking tool\(s\):\s*(.+)`)
	actionNarrationRe = regexp.MustCompile(`(?i)^(Let me|I'll|I'm going to|First let me)\s+(\w+)`)
	xmlTagRe          = regexp.MustCompile(`<[^>]*>`)
	pathTokenRe       = regexp.MustCompile(`(?:[A-Za-z0-9_~.-]+/)+[A-Za-z0-9_.-]+|\b[A-Za-z0-9_-]+\.[A-Za-z]{1,8}\b`)
	quotedTokenRe     = regexp.MustCompile("`([^`]+)`|\"([^\"]+)\"|'([^']+)'")
	backtickTokenRe   = regexp.MustCompile("`([^`]+)`")
	fencedBlockRe     = regexp.MustCompile("(?s)```[A-Za-z0-9]*\\n(.*?)```")
)

// NarratedToolNames extracts tool names from an "Invoking tool(s): ..."
// narration. Leaked markup is stripped; names come back as written.
func NarratedToolNames(text string) []string {
	m := intentNarrationRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	raw := xmlTagRe.ReplaceAllString(m[1], "")
	var names []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "`'\". ")
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

// AgentTypeFor maps narrated tool names to the subagent type that should
// run them on the model's behalf.
func AgentTypeFor(tools []string) string {
	for _, t := range tools {
		switch strings.ToLower(t) {
		case "edit", "write", "bash":
			return agentTypeGeneral
		}
	}
	return agentTypeExplore
}

// BuildSubagentTask turns the stalled request into a task prompt for the
// spawned subagent.
func BuildSubagentTask(lastUserText string, tools []string) string {
	if lastUserText == "" {
		lastUserText = "(no user request text available)"
	}
	return fmt.Sprintf("Complete the following request, using the %s tool(s) as needed.\n\nRequest:\n%s",
		strings.Join(tools, ", "), lastUserText)
}

// subagentResultMessage folds a completed subagent run back into the
// conversation as a user turn.
func subagentResultMessage(agentType, result string) string {
	return fmt.Sprintf("[Subagent %s completed]\n%s", agentType, result)
}

// ClassifierRequest builds the short side call that asks the same model
// whether its own text was unacted tool intent.
func ClassifierRequest(model, text string) *entity.MessagesRequest {
	temp := 0.0
	return &entity.MessagesRequest{
		Model:           model,
		MaxTokens:       8,
		Temperature:     &temp,
		NoToolInjection: true,
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, classifierQuestion+"\n\n"+text),
		},
	}
}

// ClassifierSaysYes reads the verdict out of the classifier response.
func ClassifierSaysYes(resp *entity.MessagesResponse) bool {
	if resp == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(resp.Text()), "YES")
}

// MatchesActionNarration reports whether the text opens with first-person
// intent ("Let me read...", "I'll run...").
func MatchesActionNarration(text string) bool {
	return actionNarrationRe.MatchString(strings.TrimSpace(text))
}

// SynthesiseToolCall builds a concrete tool call from an action narration.
// Returns nil when the text does not pin down an unambiguous call; edits
// are never synthesised because a wrong guess destroys data.
func SynthesiseToolCall(text string) *entity.ToolCall {
	trimmed := strings.TrimSpace(text)
	m := actionNarrationRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil
	}
	verb := strings.ToLower(m[2])

	switch verb {
	case "read", "open", "view", "check", "look":
		if path := firstPathToken(trimmed); path != "" {
			return newSyntheticCall("Read", map[string]any{"file_path": path})
		}
	case "list", "show":
		path := firstPathToken(trimmed)
		if path == "" {
			path = "."
		}
		return newSyntheticCall("Ls", map[string]any{"path": path})
	case "search", "find", "grep":
		if pattern := firstQuotedToken(trimmed); pattern != "" {
			return newSyntheticCall("Grep", map[string]any{"pattern": pattern})
		}
	case "run", "execute":
		if strings.Contains(strings.ToLower(trimmed), "test") {
			return newSyntheticCall("Bash", map[string]any{"command": "npm run test:unit"})
		}
		if cmd := firstBacktickToken(trimmed); cmd != "" {
			return newSyntheticCall("Bash", map[string]any{"command": cmd})
		}
	case "create", "write":
		path := firstPathToken(trimmed)
		content := firstFencedBlock(text)
		if path != "" && content != "" {
			return newSyntheticCall("Write", map[string]any{"file_path": path, "content": content})
		}
	case "edit", "update", "modify":
		return nil
	}
	return nil
}

func newSyntheticCall(name string, args map[string]any) *entity.ToolCall {
	return &entity.ToolCall{ID: domainparser.NewCallID(), Name: name, Arguments: args}
}

func firstPathToken(text string) string {
	return pathTokenRe.FindString(text)
}

func firstQuotedToken(text string) string {
	m := quotedTokenRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func firstBacktickToken(text string) string {
	m := backtickTokenRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func firstFencedBlock(text string) string {
	m := fencedBlockRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
