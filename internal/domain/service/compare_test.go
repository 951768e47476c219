package service

import (
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// === Tool-call scoring ===

func TestScoreToolCalls(t *testing.T) {
	tests := []struct {
		name  string
		calls []entity.ToolCall
		want  int
	}{
		{"no calls", nil, 0},
		{"named call without arguments", []entity.ToolCall{call("c", "Read", nil)}, 15},
		{"short string earns no length bonus", []entity.ToolCall{call("c", "Bash", map[string]any{"command": "ls"})}, 17},
		{"long string earns the bonus", []entity.ToolCall{call("c", "Read", map[string]any{"file_path": "/etc/hosts"})}, 18},
		{"non-string argument", []entity.ToolCall{call("c", "", map[string]any{"limit": 10})}, 12},
		{"raw payload penalised", []entity.ToolCall{call("c", "Bash", map[string]any{"_raw": "<tool>Bash</tool>"})}, 13},
		{"calls add up", []entity.ToolCall{
			call("a", "Glob", map[string]any{"pattern": "*.ts"}),
			call("b", "Read", map[string]any{"file_path": "a.ts"}),
		}, 34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreToolCalls(tt.calls); got != tt.want {
				t.Fatalf("ScoreToolCalls() = %d, want %d", got, tt.want)
			}
		})
	}
}

// === Proposal comparison ===

func TestCompareToolCalls(t *testing.T) {
	strong := []entity.ToolCall{call("a", "Read", map[string]any{"file_path": "/etc/hosts"})}
	weak := []entity.ToolCall{call("b", "", map[string]any{"_raw": "garbage text"})}

	t.Run("higher score wins", func(t *testing.T) {
		cmp := CompareToolCalls(strong, weak)
		if cmp.SelectedProvider != "conversation" {
			t.Fatalf("selected = %q, want conversation", cmp.SelectedProvider)
		}
		if cmp.ConversationScore <= cmp.ToolExecutionScore {
			t.Fatalf("scores: conversation %d, tool %d", cmp.ConversationScore, cmp.ToolExecutionScore)
		}
	})

	t.Run("ties go to the tool provider", func(t *testing.T) {
		cmp := CompareToolCalls(strong, strong)
		if cmp.SelectedProvider != "tool_execution" {
			t.Fatalf("selected = %q, want tool_execution", cmp.SelectedProvider)
		}
	})

	t.Run("empty proposals", func(t *testing.T) {
		cmp := CompareToolCalls(nil, nil)
		if cmp.ConversationScore != 0 || cmp.ToolExecutionScore != 0 {
			t.Fatalf("scores = %d/%d, want 0/0", cmp.ConversationScore, cmp.ToolExecutionScore)
		}
		if cmp.SelectedProvider != "tool_execution" {
			t.Fatalf("selected = %q, want tool_execution", cmp.SelectedProvider)
		}
	})
}
