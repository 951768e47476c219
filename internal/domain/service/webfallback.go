package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// staleKnowledgeSignals are phrases that mean the model gave up for lack of
// fresh data. Matching is case-insensitive.
var staleKnowledgeSignals = []string{
	"i don't have access to real-time",
	"knowledge cutoff",
	"cannot browse the internet",
	"as of my last update",
	"i can't access the internet",
}

var linkRe = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// NeedsWebFallback reports whether the final text declined for staleness.
func NeedsWebFallback(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range staleKnowledgeSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// CandidateURL picks the best URL to fetch: the most recent link in a tool
// result (search output), then a link the user pasted, then a search query
// built from the user's request.
func CandidateURL(msgs []entity.Message, lastUserText string) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, b := range msgs[i].ToolResults() {
			if link := linkRe.FindString(b.Content); link != "" {
				return link
			}
		}
		if msgs[i].Role == entity.RoleTool {
			if link := linkRe.FindString(msgs[i].Text()); link != "" {
				return link
			}
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != entity.RoleUser {
			continue
		}
		if link := linkRe.FindString(msgs[i].Text()); link != "" {
			return link
		}
	}
	if lastUserText == "" {
		return ""
	}
	return "https://www.google.com/search?q=" + url.QueryEscape(lastUserText)
}

// WebFallbackCall wraps the candidate URL in a fetch call. It goes through
// the normal executor so policy still applies.
func WebFallbackCall(target string) *entity.ToolCall {
	return newSyntheticCall("WebFetch", map[string]any{"url": target})
}

// webFallbackNote is appended to the answer when the fetch attempt failed,
// so the staleness workaround stays visible.
func webFallbackNote(target string, res entity.ToolResult) string {
	reason := strings.TrimSpace(res.Content)
	if reason == "" {
		reason = "no content returned"
	}
	return fmt.Sprintf("\n\n(Attempted to fetch fresh data from %s, but the fetch failed: %s)", target, entity.Preview(reason))
}
