package prompt

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// runtimeBlock renders the factual environment section that leads every
// synthesised prompt. Facts only, no behavioural directives; those live
// in components so operators can override them.
func runtimeBlock(ctx Context, now time.Time) string {
	hostname, _ := os.Hostname()
	model := ctx.Model
	if model == "" {
		model = "unknown"
	}
	workspace := ctx.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	return fmt.Sprintf(`## Environment

- Platform: %s/%s | Host: %s
- Date: %s
- Model: %s
- Workspace: %s

Commands and file operations run inside the workspace directory unless a
task names another path.`,
		runtime.GOOS, runtime.GOARCH, hostname,
		now.Format("2006-01-02 15:04 MST"),
		model,
		workspace)
}
