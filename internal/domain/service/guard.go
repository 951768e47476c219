package service

import (
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// interruptedToolContent fills the synthetic tool_result inserted for a
// tool_use block the client never answered.
const interruptedToolContent = "[tool call interrupted by user]"

// interruptMarker is what clients append when the user cut off a running
// turn and typed over it.
const interruptMarker = "[Request interrupted by user]"

// CountTrailingToolResults counts tool_result blocks that arrived after the
// last user message carrying real text. The check runs on the original
// payload: shaping merges history and would hide the run-on.
func CountTrailingToolResults(msgs []entity.Message) int {
	return len(trailingToolResults(msgs))
}

// trailingToolResults collects those blocks in chronological order. A
// role:"tool" message from an OpenAI-shaped client counts as one result.
func trailingToolResults(msgs []entity.Message) []entity.ContentBlock {
	var collected []entity.ContentBlock
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == entity.RoleUser && m.HasText() {
			break
		}
		if m.Role == entity.RoleTool {
			collected = append(collected, entity.ToolResultBlock(m.ToolCallID, m.Text(), false))
			continue
		}
		results := m.ToolResults()
		for j := len(results) - 1; j >= 0; j-- {
			collected = append(collected, results[j])
		}
	}
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// GuardSummary synthesises the early-termination answer from the collected
// tool outputs, so the client still gets something usable instead of an
// opaque error.
func GuardSummary(msgs []entity.Message) string {
	results := trailingToolResults(msgs)
	var sb strings.Builder
	sb.WriteString("Based on the tool results gathered so far:\n")
	for i, b := range results {
		content := strings.TrimSpace(b.Content)
		if content == "" {
			content = "(empty result)"
		}
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, entity.Preview(content)))
	}
	sb.WriteString(fmt.Sprintf("\n\n%d tool results accumulated without new user input, so tool execution was stopped here. Raise POLICY_TOOL_LOOP_THRESHOLD to allow longer tool chains.", len(results)))
	return sb.String()
}

// PayloadRepairs reports what RepairPayload had to fix.
type PayloadRepairs struct {
	Inserted int // synthetic tool_results added for dangling tool_use blocks
	Stripped int // orphan tool_results removed
}

func (r PayloadRepairs) Any() bool { return r.Inserted > 0 || r.Stripped > 0 }

// RepairPayload makes the message history well-formed before it reaches a
// provider. Orphan tool_result blocks (no preceding tool_use with that ID)
// are stripped; dangling tool_use blocks (never answered) get a synthetic
// interrupted result inserted into the following user message, or a new
// user message when none follows. Providers reject histories that violate
// either pairing.
func RepairPayload(msgs []entity.Message) ([]entity.Message, PayloadRepairs) {
	var rep PayloadRepairs

	// Pass 1: strip results that answer nothing.
	seen := make(map[string]bool)
	out := make([]entity.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == entity.RoleTool {
			if !seen[m.ToolCallID] {
				rep.Stripped++
				continue
			}
			out = append(out, m)
			continue
		}
		kept := make(entity.BlockList, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == entity.BlockToolResult && !seen[b.ToolUseID] {
				rep.Stripped++
				continue
			}
			kept = append(kept, b)
		}
		for _, b := range kept {
			if b.Type == entity.BlockToolUse && b.ID != "" {
				seen[b.ID] = true
			}
		}
		if len(kept) == 0 && len(m.Content) > 0 {
			continue
		}
		m.Content = kept
		out = append(out, m)
	}

	// Pass 2: answer every tool_use the client left hanging.
	answered := make(map[string]bool)
	for _, m := range out {
		for _, b := range m.ToolResults() {
			answered[b.ToolUseID] = true
		}
		if m.Role == entity.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	repaired := make([]entity.Message, 0, len(out)+1)
	for i, m := range out {
		repaired = append(repaired, m)
		if m.Role != entity.RoleAssistant {
			continue
		}
		var synth entity.BlockList
		for _, b := range m.ToolUses() {
			if b.ID == "" || answered[b.ID] {
				continue
			}
			synth = append(synth, entity.ToolResultBlock(b.ID, interruptedToolContent, true))
			rep.Inserted++
		}
		if len(synth) == 0 {
			continue
		}
		if i+1 < len(out) && out[i+1].Role == entity.RoleUser {
			next := out[i+1]
			next.Content = append(append(entity.BlockList{}, synth...), next.Content...)
			out[i+1] = next
		} else {
			repaired = append(repaired, entity.Message{Role: entity.RoleUser, Content: synth})
		}
	}
	return repaired, rep
}

// CleanInterruptedInput strips a previously-sent prompt prefix from the
// last user message. Clients that let the user interrupt a running turn
// resend the old text with the new input appended after an interrupt
// marker; the model should only see the new input. The session remembers
// the latest user text so the next interruption can be detected.
func CleanInterruptedInput(sess *entity.Session, msgs []entity.Message) bool {
	idx := lastUserTextIndex(msgs)
	if idx < 0 {
		return false
	}
	lut := msgs[idx].Text()
	cleaned := false
	if pending := sess.PendingUserInput; pending != "" && lut != pending && strings.HasPrefix(lut, pending) {
		rest := strings.TrimPrefix(lut, pending)
		rest = strings.ReplaceAll(rest, interruptMarker, "")
		rest = strings.TrimSpace(rest)
		if rest != "" {
			setMessageText(&msgs[idx], rest)
			lut = rest
			cleaned = true
		}
	}
	sess.PendingUserInput = lut
	return cleaned
}

func lastUserTextIndex(msgs []entity.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == entity.RoleUser && msgs[i].HasText() {
			return i
		}
	}
	return -1
}

// setMessageText replaces the message's text content, leaving tool blocks
// in place.
func setMessageText(m *entity.Message, text string) {
	out := make(entity.BlockList, 0, len(m.Content))
	replaced := false
	for _, b := range m.Content {
		if b.Type == entity.BlockText {
			if !replaced {
				out = append(out, entity.TextBlock(text))
				replaced = true
			}
			continue
		}
		out = append(out, b)
	}
	if !replaced {
		out = append(out, entity.TextBlock(text))
	}
	m.Content = out
}
