package tool

import (
	"context"
	"fmt"
	"strings"

	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
	"github.com/modelgate/modelgate/internal/infrastructure/sandbox"
)

const (
	bashDigestThreshold = 2000
	bashDigestHead      = 1000
	bashDigestTail      = 800
)

// BashTool runs shell commands through the process sandbox.
type BashTool struct {
	sandbox *sandbox.ProcessSandbox
}

func NewBashTool(sb *sandbox.ProcessSandbox) *BashTool {
	return &BashTool{sandbox: sb}
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *BashTool) Description() string {
	return "Run a shell command in the workspace sandbox. Commands are killed on timeout (exit code 124). Only allowlisted binaries run."
}

func (t *BashTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute"},
		},
		"required": []any{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	command := strings.TrimSpace(stringArg(args, "command", "cmd"))
	if command == "" {
		return failure("command is required")
	}

	res, err := t.sandbox.ExecuteShell(ctx, command)
	if res == nil {
		if err != nil {
			return failure("%v", err)
		}
		return failure("command produced no result")
	}

	output := combineOutput(res)
	meta := map[string]any{
		"exitCode": res.ExitCode,
	}
	if res.Killed {
		meta["killed"] = true
	}

	result := &domaintool.Result{
		Output:   output,
		Success:  err == nil && res.ExitCode == 0,
		Metadata: meta,
	}
	if err != nil {
		result.Error = err.Error()
	} else if res.ExitCode != 0 {
		result.Error = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	if len(output) > bashDigestThreshold {
		result.Display = digestOutput(output)
	}
	return result, nil
}

func combineOutput(res *sandbox.Result) string {
	var sb strings.Builder
	sb.WriteString(res.Stdout)
	if res.Stderr != "" {
		if sb.Len() > 0 && !strings.HasSuffix(res.Stdout, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(res.Stderr)
	}
	if res.Killed {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("[command timed out]")
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}

// digestOutput keeps the head and tail of long command output for display
// purposes; the full (capped) output still goes back to the model.
func digestOutput(s string) string {
	if len(s) <= bashDigestThreshold {
		return s
	}
	omitted := len(s) - bashDigestHead - bashDigestTail
	return fmt.Sprintf("%s\n... [%d chars omitted] ...\n%s",
		s[:bashDigestHead], omitted, s[len(s)-bashDigestTail:])
}
