package service

import (
	"strings"
	"testing"
)

// === Identical-call detection ===

func TestLoopDetector_VerdictSequence(t *testing.T) {
	d := NewLoopDetector()
	same := call("c1", "Bash", map[string]any{"command": "ls"})

	want := []LoopVerdict{LoopOK, LoopOK, LoopWarn, LoopAbort, LoopAbort}
	for i, w := range want {
		if got := d.Observe(same); got != w {
			t.Fatalf("observation %d = %v, want %v", i+1, got, w)
		}
	}
	if got := d.Count(same); got != 5 {
		t.Fatalf("Count = %d, want 5", got)
	}
}

func TestLoopDetector_DifferentArgumentsCountSeparately(t *testing.T) {
	d := NewLoopDetector()
	a := call("x", "Read", map[string]any{"file_path": "a.go"})
	b := call("y", "Read", map[string]any{"file_path": "b.go"})

	d.Observe(a)
	d.Observe(a)
	if got := d.Observe(b); got != LoopOK {
		t.Fatalf("different arguments flagged: %v", got)
	}
	if got := d.Count(a); got != 2 {
		t.Fatalf("Count(a) = %d, want 2", got)
	}
	if got := d.Count(b); got != 1 {
		t.Fatalf("Count(b) = %d, want 1", got)
	}
}

func TestLoopDetector_WarnsOnlyOnce(t *testing.T) {
	d := NewLoopDetector()
	a := call("x", "Bash", map[string]any{"command": "ls"})
	b := call("y", "Bash", map[string]any{"command": "pwd"})

	d.Observe(a)
	d.Observe(a)
	if got := d.Observe(a); got != LoopWarn {
		t.Fatalf("third identical call = %v, want LoopWarn", got)
	}

	d.Observe(b)
	d.Observe(b)
	if got := d.Observe(b); got != LoopOK {
		t.Fatalf("second warning fired: %v", got)
	}
	if got := d.Observe(b); got != LoopAbort {
		t.Fatalf("fourth identical call = %v, want LoopAbort", got)
	}
}

func TestLoopWarningMessage_NamesCallAndCount(t *testing.T) {
	msg := loopWarningMessage(call("c", "Grep", map[string]any{"pattern": "x"}), 3)
	if !strings.Contains(msg, "(Grep)") || !strings.Contains(msg, "3 times") {
		t.Fatalf("unexpected warning: %q", msg)
	}
}

// === Wind-down hint ===

func TestLoopDetector_StopHint(t *testing.T) {
	d := NewLoopDetector()

	if _, ok := d.StopHint(9, 10); ok {
		t.Fatal("hint fired below threshold")
	}
	msg, ok := d.StopHint(10, 10)
	if !ok {
		t.Fatal("no hint at threshold")
	}
	if !strings.Contains(msg, "10 tool calls") || !strings.Contains(msg, "Finish up") {
		t.Fatalf("unexpected hint: %q", msg)
	}
	if _, ok := d.StopHint(11, 10); ok {
		t.Fatal("hint fired twice")
	}
}

func TestLoopDetector_StopHintDisabledThreshold(t *testing.T) {
	d := NewLoopDetector()
	if _, ok := d.StopHint(100, 0); ok {
		t.Fatal("hint fired with zero threshold")
	}
}
