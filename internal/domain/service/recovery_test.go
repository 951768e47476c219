package service

import (
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// === Intent narration ===

func TestNarratedToolNames(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain list", "Invoking tool(s): Read, Grep", []string{"Read", "Grep"}},
		{"after other text", "I need more context.\nInvoking tool(s): Bash", []string{"Bash"}},
		{"case insensitive", "invoking tool(s): glob", []string{"glob"}},
		{"leaked markup stripped", "Invoking tool(s): <tool>Read</tool>, <tool>Ls</tool>", []string{"Read", "Ls"}},
		{"quoted names unwrapped", "Invoking tool(s): `Read`, 'Grep'", []string{"Read", "Grep"}},
		{"no narration", "The answer is 42.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NarratedToolNames(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("NarratedToolNames() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("NarratedToolNames() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAgentTypeFor(t *testing.T) {
	tests := []struct {
		name  string
		tools []string
		want  string
	}{
		{"read-only explores", []string{"Read", "Grep"}, "Explore"},
		{"bash goes general", []string{"Bash"}, "general-purpose"},
		{"any mutator goes general", []string{"Read", "Write"}, "general-purpose"},
		{"case insensitive", []string{"EDIT"}, "general-purpose"},
		{"no tools explores", nil, "Explore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgentTypeFor(tt.tools); got != tt.want {
				t.Fatalf("AgentTypeFor(%v) = %q, want %q", tt.tools, got, tt.want)
			}
		})
	}
}

func TestBuildSubagentTask(t *testing.T) {
	task := BuildSubagentTask("inspect the config", []string{"Read", "Grep"})
	if !strings.Contains(task, "Read, Grep") || !strings.Contains(task, "inspect the config") {
		t.Fatalf("unexpected task: %q", task)
	}

	empty := BuildSubagentTask("", []string{"Read"})
	if !strings.Contains(empty, "(no user request text available)") {
		t.Fatalf("missing placeholder: %q", empty)
	}
}

// === Intent classifier ===

func TestClassifierRequest_Shape(t *testing.T) {
	req := ClassifierRequest("qwen3:8b", "Let me check the logs.")

	if req.Model != "qwen3:8b" {
		t.Fatalf("model = %q", req.Model)
	}
	if req.MaxTokens != 8 {
		t.Fatalf("MaxTokens = %d, want 8", req.MaxTokens)
	}
	if !req.NoToolInjection {
		t.Fatal("classifier call must not get tools injected")
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Fatal("classifier should run at temperature 0")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(req.Messages))
	}
	text := req.Messages[0].Text()
	if !strings.Contains(text, "Answer YES or NO") || !strings.Contains(text, "Let me check the logs.") {
		t.Fatalf("unexpected classifier prompt: %q", text)
	}
}

func TestClassifierSaysYes(t *testing.T) {
	tests := []struct {
		name string
		resp *entity.MessagesResponse
		want bool
	}{
		{"nil response", nil, false},
		{"upper yes", entity.NewTextResponse("m", "YES"), true},
		{"lower yes with period", entity.NewTextResponse("m", "yes."), true},
		{"no", entity.NewTextResponse("m", "NO"), false},
		{"empty", entity.NewTextResponse("m", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifierSaysYes(tt.resp); got != tt.want {
				t.Fatalf("ClassifierSaysYes = %v, want %v", got, tt.want)
			}
		})
	}
}

// === Action narration and synthesis ===

func TestMatchesActionNarration(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Let me read the file", true},
		{"I'll run the linter", true},
		{"I'm going to check the config", true},
		{"First let me look at the tests", true},
		{"  Let me search for it", true},
		{"The answer is 42.", false},
		{"You should let me know.", false},
	}
	for _, tt := range tests {
		if got := MatchesActionNarration(tt.text); got != tt.want {
			t.Errorf("MatchesActionNarration(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestSynthesiseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantArgs map[string]any
	}{
		{
			name:     "read with path",
			text:     "Let me read config/app.yaml first.",
			wantName: "Read",
			wantArgs: map[string]any{"file_path": "config/app.yaml"},
		},
		{
			name:     "check with bare filename",
			text:     "I'll check README.md for the setup steps.",
			wantName: "Read",
			wantArgs: map[string]any{"file_path": "README.md"},
		},
		{
			name:     "show with directory",
			text:     "Let me show internal/domain/service",
			wantName: "Ls",
			wantArgs: map[string]any{"path": "internal/domain/service"},
		},
		{
			name:     "list without path defaults to cwd",
			text:     "I'll list the files here",
			wantName: "Ls",
			wantArgs: map[string]any{"path": "."},
		},
		{
			name:     "search with quoted pattern",
			text:     `Let me search for "connection timeout" in the logs.`,
			wantName: "Grep",
			wantArgs: map[string]any{"pattern": "connection timeout"},
		},
		{
			name:     "run with backticked command",
			text:     "Let me run `make lint` and see.",
			wantName: "Bash",
			wantArgs: map[string]any{"command": "make lint"},
		},
		{
			name:     "run tests uses the test command",
			text:     "I'll run the unit tests now.",
			wantName: "Bash",
			wantArgs: map[string]any{"command": "npm run test:unit"},
		},
		{
			name:     "create with fenced content",
			text:     "Let me create notes.txt:\n```text\nhello world\n```",
			wantName: "Write",
			wantArgs: map[string]any{"file_path": "notes.txt", "content": "hello world\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SynthesiseToolCall(tt.text)
			if got == nil {
				t.Fatal("no call synthesised")
			}
			if got.Name != tt.wantName {
				t.Fatalf("name = %q, want %q", got.Name, tt.wantName)
			}
			if got.ID == "" {
				t.Fatal("synthetic call needs an id")
			}
			for k, want := range tt.wantArgs {
				if got.Arguments[k] != want {
					t.Fatalf("argument %s = %v, want %v", k, got.Arguments[k], want)
				}
			}
		})
	}
}

func TestSynthesiseToolCall_RefusesAmbiguousCases(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"edits are never synthesised", "Let me edit main.go to fix the bug."},
		{"updates are never synthesised", "I'll update the handler."},
		{"unknown verb", "Let me ponder this for a moment."},
		{"read without target", "Let me read it again."},
		{"search without pattern", "I'll search the codebase."},
		{"no narration at all", "The capital of France is Paris."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SynthesiseToolCall(tt.text); got != nil {
				t.Fatalf("synthesised %s(%v) from %q", got.Name, got.Arguments, tt.text)
			}
		})
	}
}
