package contextshape

import (
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Compression tiers by distance from the end of the conversation. The
// keep ratio squeezes tool output proportionally; the budget ratio caps
// it against the model's context window in characters.
type tierParams struct {
	keepRatio   float64
	budgetRatio float64
}

var defaultTiers = [3]tierParams{
	{keepRatio: 0.90, budgetRatio: 0.25}, // veryRecent: last 4 messages
	{keepRatio: 0.50, budgetRatio: 0.10}, // recent: 5th to 10th from the end
	{keepRatio: 0.20, budgetRatio: 0.03}, // old: everything earlier
}

const (
	veryRecentCount = 4
	recentCount     = 10
)

func tierIndex(fromEnd int) int {
	switch {
	case fromEnd < veryRecentCount:
		return 0
	case fromEnd < recentCount:
		return 1
	default:
		return 2
	}
}

// summaryPrefix marks a message produced by summariseOld. Compression
// recognises its own output so a second run changes nothing.
const summaryPrefix = "[Earlier conversation summary: "

func isSummaryMessage(m entity.Message) bool {
	return m.Role == entity.RoleUser && strings.HasPrefix(m.Text(), summaryPrefix)
}

// compressHistory folds everything older than keepRecent messages into a
// single summary user message, then squeezes tool_result blocks of the
// surviving messages per tier. Re-running it on its own output is a
// no-op.
func compressHistory(msgs []entity.Message, keepRecent, windowChars int, tiers [3]tierParams) []entity.Message {
	var result []entity.Message
	switch {
	case keepRecent > 0 && keepRecent < len(msgs) &&
		!(len(msgs) == keepRecent+1 && isSummaryMessage(msgs[0])):
		old := msgs[:len(msgs)-keepRecent]
		kept := msgs[len(msgs)-keepRecent:]
		result = make([]entity.Message, 0, len(kept)+1)
		result = append(result, summariseOld(old))
		result = append(result, kept...)
	default:
		result = msgs
	}

	for i := range result {
		tier := tiers[tierIndex(len(result)-1-i)]
		limit := int(float64(windowChars) * tier.budgetRatio)
		for j := range result[i].Content {
			block := &result[i].Content[j]
			if block.Type == entity.BlockToolResult {
				block.Content = squeeze(block.Content, tier.keepRatio, limit)
			}
		}
	}
	return result
}

// summariseOld renders discarded history as one bracketed user message so
// the model keeps orientation without the bulk.
func summariseOld(old []entity.Message) entity.Message {
	var userPart, assistantPart string
	var toolNames []string
	seen := map[string]bool{}

	for _, m := range old {
		switch m.Role {
		case entity.RoleUser:
			if userPart == "" && m.HasText() {
				userPart = clip(m.Text(), 160)
			}
		case entity.RoleAssistant:
			for _, tu := range m.ToolUses() {
				if tu.Name != "" && !seen[tu.Name] {
					seen[tu.Name] = true
					toolNames = append(toolNames, tu.Name)
				}
			}
			if m.HasText() {
				assistantPart = clip(m.Text(), 160)
			}
		}
	}

	var parts []string
	if userPart != "" {
		parts = append(parts, "User: "+userPart)
	}
	if len(toolNames) > 0 {
		parts = append(parts, "Assistant used tools: "+strings.Join(toolNames, ", "))
	}
	if assistantPart != "" {
		parts = append(parts, "Assistant: "+assistantPart)
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d earlier messages", len(old)))
	}

	text := "[Earlier conversation summary: " + strings.Join(parts, " | ") + "]"
	return entity.NewTextMessage(entity.RoleUser, text)
}

// omissionInfix appears in every long-form squeeze result.
const omissionInfix = " chars omitted]…"

// squeeze shrinks s to keepRatio of its length, never above limit, keeping
// a head and tail around an omission marker. Already-squeezed content
// passes through unchanged.
func squeeze(s string, keepRatio float64, limit int) string {
	if strings.Contains(s, omissionInfix) || strings.HasSuffix(s, "…") {
		return s
	}
	target := int(float64(len(s)) * keepRatio)
	if limit > 0 && target > limit {
		target = limit
	}
	if len(s) <= target {
		return s
	}
	return headTail(s, target)
}

// headTail keeps roughly two thirds of the budget at the front and one
// third at the back, with an explicit omission marker between.
func headTail(s string, target int) string {
	runes := []rune(s)
	if target < 48 {
		if target < 1 {
			target = 1
		}
		if len(runes) <= target {
			return s
		}
		return string(runes[:target]) + "…"
	}
	head := target * 2 / 3
	tail := target - head
	omitted := len(runes) - head - tail
	if omitted <= 0 {
		return s
	}
	marker := fmt.Sprintf("\n…[%d chars omitted]…\n", omitted)
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
