package llm

import (
	"regexp"
	"strings"
)

// Reasoning-tag stripping. Local models (qwen, deepseek, minimax and
// friends) leak <think>...</think> blocks into their text output; none of
// that may reach the client. All models share one stripping pipeline, so
// there is no per-model branching to maintain.

// thinkQuickRe is the fast-path check: no match means no processing.
var thinkQuickRe = regexp.MustCompile(`(?i)<\s*/?\s*(?:think(?:ing)?|thought|antthinking|final)\b`)

// finalWrapRe matches <final> markup whose content is kept.
var finalWrapRe = regexp.MustCompile(`(?i)<\s*/?\s*final\b[^<>]*>`)

// thinkTagRe matches reasoning tags. Group 1 captures "/" on closing tags.
var thinkTagRe = regexp.MustCompile(`(?i)<\s*(/?)\s*(?:think(?:ing)?|thought|antthinking)\b[^<>]*>`)

// span is a half-open byte range [start, end).
type span struct {
	start, end int
}

func (s span) contains(pos int) bool {
	return pos >= s.start && pos < s.end
}

// codeSpans locates fenced code blocks and inline code so tags inside them
// survive stripping. RE2 has no backreferences, so fences are scanned by hand.
func codeSpans(text string) []span {
	spans := scanFences(text, "```")
	spans = append(spans, scanFences(text, "~~~")...)

	inlineRe := regexp.MustCompile("`+[^`]+`+")
	for _, m := range inlineRe.FindAllStringIndex(text, -1) {
		nested := false
		for _, s := range spans {
			if m[0] >= s.start && m[1] <= s.end {
				nested = true
				break
			}
		}
		if !nested {
			spans = append(spans, span{m[0], m[1]})
		}
	}
	return spans
}

// scanFences finds blocks delimited by fence at line starts. An unclosed
// fence claims the rest of the text.
func scanFences(text, fence string) []span {
	var spans []span
	offset := 0
	for offset < len(text) {
		idx := strings.Index(text[offset:], fence)
		if idx < 0 {
			break
		}
		start := offset + idx
		if start > 0 && text[start-1] != '\n' {
			offset = start + len(fence)
			continue
		}
		lineEnd := strings.Index(text[start:], "\n")
		if lineEnd < 0 {
			spans = append(spans, span{start, len(text)})
			break
		}
		closeAt := -1
		pos := start + lineEnd + 1
		for pos < len(text) {
			ci := strings.Index(text[pos:], fence)
			if ci < 0 {
				break
			}
			cand := pos + ci
			if cand == 0 || text[cand-1] == '\n' {
				closeAt = cand
				break
			}
			pos = cand + len(fence)
		}
		if closeAt < 0 {
			spans = append(spans, span{start, len(text)})
			break
		}
		end := closeAt + len(fence)
		if nl := strings.Index(text[end:], "\n"); nl >= 0 {
			end += nl + 1
		} else {
			end = len(text)
		}
		spans = append(spans, span{start, end})
		offset = end
	}
	return spans
}

func insideCode(pos int, spans []span) bool {
	for _, s := range spans {
		if s.contains(pos) {
			return true
		}
	}
	return false
}

// StripThinkBlocks removes model-internal reasoning from text output.
// <think>, <thinking>, <thought> and <antthinking> blocks are removed with
// their content; <final> markup is removed but its content kept. Content
// after an unclosed reasoning tag is dropped. Tags inside code blocks are
// left alone. The result is whitespace-trimmed.
func StripThinkBlocks(text string) string {
	if text == "" || !thinkQuickRe.MatchString(text) {
		return text
	}

	cleaned := text

	if finalWrapRe.MatchString(cleaned) {
		code := codeSpans(cleaned)
		matches := finalWrapRe.FindAllStringIndex(cleaned, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			if !insideCode(m[0], code) {
				cleaned = cleaned[:m[0]] + cleaned[m[1]:]
			}
		}
	}

	code := codeSpans(cleaned)
	matches := thinkTagRe.FindAllStringSubmatchIndex(cleaned, -1)

	var out strings.Builder
	out.Grow(len(cleaned))

	last := 0
	inThink := false
	for _, m := range matches {
		idx, end := m[0], m[1]
		closing := m[2] != m[3]

		if insideCode(idx, code) {
			continue
		}

		if !inThink {
			out.WriteString(cleaned[last:idx])
			if !closing {
				inThink = true
			}
		} else if closing {
			inThink = false
		}
		last = end
	}
	if !inThink {
		out.WriteString(cleaned[last:])
	}

	return strings.TrimSpace(out.String())
}
