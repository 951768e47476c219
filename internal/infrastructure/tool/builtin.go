package tool

import (
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/memory"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
	"github.com/modelgate/modelgate/internal/infrastructure/sandbox"
)

// Deps aggregates everything the builtin toolset needs. Nil or empty
// fields disable the tools that depend on them.
type Deps struct {
	WorkspaceRoot string
	Sandbox       *sandbox.ProcessSandbox
	SearchURL     string // SearXNG base URL; empty disables WebSearch
	Memory        *memory.Manager
	TaskParallel  int
	Logger        *zap.Logger
}

// RegisterBuiltins installs the builtin tools into the registry and
// returns the Task tool so the caller can wire its subagent runner once
// the loop service exists. Individual registration failures are logged
// and skipped; the rest of the toolset still comes up.
func RegisterBuiltins(registry *domaintool.Registry, deps Deps) *TaskTool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tool.builtin")

	register := func(h domaintool.Handler) {
		if err := registry.Register(h); err != nil {
			logger.Warn("builtin tool registration failed",
				zap.String("tool", h.Name()),
				zap.Error(err))
		}
	}

	register(NewReadTool(deps.WorkspaceRoot))
	register(NewWriteTool(deps.WorkspaceRoot))
	register(NewEditTool(deps.WorkspaceRoot))
	register(NewLsTool(deps.WorkspaceRoot))
	register(NewGlobTool(deps.WorkspaceRoot))
	register(NewGrepTool(deps.WorkspaceRoot))

	if deps.Sandbox != nil {
		register(NewBashTool(deps.Sandbox))
	} else {
		logger.Info("sandbox not configured, Bash tool disabled")
	}

	if deps.SearchURL != "" {
		register(NewWebSearchTool(deps.SearchURL))
	} else {
		logger.Info("search backend not configured, WebSearch tool disabled")
	}
	register(NewWebFetchTool())

	task := NewTaskTool(deps.TaskParallel)
	register(task)

	if deps.Memory != nil {
		register(NewMemoryWriteTool(deps.Memory))
	}

	logger.Info("builtin tools registered", zap.Int("count", len(registry.List())))
	return task
}
