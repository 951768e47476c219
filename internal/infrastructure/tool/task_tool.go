package tool

import (
	"context"
	"fmt"
	"strings"

	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

// MaxSubagentDepth caps nested Task spawns. Depth 0 is the top-level
// request; a subagent at depth 2 may not spawn further.
const MaxSubagentDepth = 2

const defaultTaskParallel = 4

// SubagentRunner executes a delegated task in a fresh agent loop and
// returns its final text. The application layer provides it; the tool
// package stays ignorant of the loop implementation.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, agentType, task string) (string, error)
}

type depthKey struct{}

// WithDepth marks ctx as running at the given subagent depth.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFrom reports the subagent depth recorded on ctx, 0 at top level.
func DepthFrom(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// TaskTool delegates a self-contained task to a subagent profile.
type TaskTool struct {
	runner SubagentRunner
	slots  chan struct{}
}

func NewTaskTool(maxParallel int) *TaskTool {
	if maxParallel <= 0 {
		maxParallel = defaultTaskParallel
	}
	return &TaskTool{slots: make(chan struct{}, maxParallel)}
}

// SetRunner wires the loop callback in after construction; registration
// happens before the loop service exists.
func (t *TaskTool) SetRunner(r SubagentRunner) {
	t.runner = r
}

func (t *TaskTool) Name() string { return "Task" }

func (t *TaskTool) Kind() domaintool.Kind { return domaintool.KindThink }

func (t *TaskTool) Description() string {
	return "Delegate a self-contained task to a subagent. The subagent works autonomously and returns a single report. Use subagent_type to pick a profile (general-purpose, Explore)."
}

func (t *TaskTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":        map[string]any{"type": "string", "description": "The full task for the subagent to perform"},
			"description":   map[string]any{"type": "string", "description": "Short 3-5 word summary of the task"},
			"subagent_type": map[string]any{"type": "string", "description": "Subagent profile to use (default general-purpose)"},
		},
		"required": []any{"prompt"},
	}
}

func (t *TaskTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	if t.runner == nil {
		return failure("subagent runner is not configured")
	}

	task := strings.TrimSpace(stringArg(args, "prompt", "task"))
	if task == "" {
		return failure("prompt is required")
	}
	agentType := strings.TrimSpace(stringArg(args, "subagent_type", "agent_type"))
	if agentType == "" {
		agentType = "general-purpose"
	}

	depth := DepthFrom(ctx)
	if depth >= MaxSubagentDepth {
		return failure("maximum subagent depth (%d) reached; perform the task directly", MaxSubagentDepth)
	}

	select {
	case t.slots <- struct{}{}:
		defer func() { <-t.slots }()
	case <-ctx.Done():
		return failure("cancelled while waiting for a subagent slot: %v", ctx.Err())
	}

	// The runner stamps depth+1 on the nested run; stamping here too would
	// double-count and cost a nesting level.
	out, err := t.runner.RunSubagent(ctx, agentType, task)
	if err != nil {
		return failure("subagent failed: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		out = "(subagent returned no output)"
	}

	return &domaintool.Result{
		Success: true,
		Output:  out,
		Display: fmt.Sprintf("[%s subagent]\n%s", agentType, out),
		Metadata: map[string]any{
			"agentType": agentType,
			"depth":     depth + 1,
		},
	}, nil
}
