package llm

import (
	"strings"
	"testing"
)

func TestStripThinkBlocks_PlainTextUntouched(t *testing.T) {
	in := "The answer is 4."
	if got := StripThinkBlocks(in); got != in {
		t.Fatalf("plain text changed: %q", got)
	}
	if got := StripThinkBlocks(""); got != "" {
		t.Fatalf("empty input changed: %q", got)
	}
}

func TestStripThinkBlocks_RemovesBlockWithContent(t *testing.T) {
	in := "<think>\nlet me work this out\n2+2=4\n</think>\nThe answer is 4."
	if got := StripThinkBlocks(in); got != "The answer is 4." {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkBlocks_TagVariants(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<thinking>hidden</thinking>visible", "visible"},
		{"<thought>hidden</thought>visible", "visible"},
		{"<antthinking>hidden</antthinking>visible", "visible"},
		{"<THINK>hidden</THINK>visible", "visible"},
		{"< think >hidden</ think >visible", "visible"},
		{"before <think>a</think> middle <think>b</think> after", "before  middle  after"},
	}
	for _, tt := range tests {
		if got := StripThinkBlocks(tt.in); got != tt.want {
			t.Errorf("StripThinkBlocks(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripThinkBlocks_FinalMarkupKeepsContent(t *testing.T) {
	in := "<think>draft</think><final>The answer is 4.</final>"
	if got := StripThinkBlocks(in); got != "The answer is 4." {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkBlocks_UnclosedTagDropsTail(t *testing.T) {
	in := "Here you go.<think>wait, actually"
	if got := StripThinkBlocks(in); got != "Here you go." {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkBlocks_FencedCodeProtected(t *testing.T) {
	in := "Use the tag like this:\n```\n<think>your reasoning</think>\n```\nDone."
	got := StripThinkBlocks(in)
	if !strings.Contains(got, "<think>your reasoning</think>") {
		t.Fatalf("tag inside fence was stripped: %q", got)
	}
	if !strings.Contains(got, "Done.") {
		t.Fatalf("text after fence lost: %q", got)
	}
}

func TestStripThinkBlocks_InlineCodeProtected(t *testing.T) {
	in := "Wrap reasoning in `<think>` tags."
	if got := StripThinkBlocks(in); got != in {
		t.Fatalf("inline code mangled: %q", got)
	}
}

func TestStripThinkBlocks_TrimsResult(t *testing.T) {
	in := "  <think>x</think>   answer   "
	if got := StripThinkBlocks(in); got != "answer" {
		t.Fatalf("got %q", got)
	}
}
