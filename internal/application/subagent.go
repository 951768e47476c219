package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/service"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
	"github.com/modelgate/modelgate/internal/infrastructure/prompt"
	toolpkg "github.com/modelgate/modelgate/internal/infrastructure/tool"
)

// subagentRunner executes delegated tasks in a fresh agent loop. Both the
// Task tool and the orchestrator's intent-narration recovery come through
// here; the runner owns the depth accounting for both.
type subagentRunner struct {
	registry  *domaintool.Registry
	assembler *prompt.Assembler
	provider  string
	model     string
	workspace string
	logger    *zap.Logger

	// orchestrator is bound after construction; the loop needs the runner
	// in its Deps before it exists.
	orchestrator *service.Orchestrator
}

func newSubagentRunner(registry *domaintool.Registry, assembler *prompt.Assembler, provider, model, workspace string, logger *zap.Logger) *subagentRunner {
	return &subagentRunner{
		registry:  registry,
		assembler: assembler,
		provider:  provider,
		model:     model,
		workspace: workspace,
		logger:    logger.Named("subagent"),
	}
}

// Bind wires the orchestrator in once it exists.
func (s *subagentRunner) Bind(o *service.Orchestrator) {
	s.orchestrator = o
}

// RunSubagent runs one delegated task to completion and returns its final
// text. The nested run executes at the caller's depth plus one; past the
// cap the spawn is refused.
func (s *subagentRunner) RunSubagent(ctx context.Context, agentType, task string) (string, error) {
	if s.orchestrator == nil {
		return "", fmt.Errorf("subagent runner has no loop bound")
	}
	depth := toolpkg.DepthFrom(ctx)
	if depth >= toolpkg.MaxSubagentDepth {
		return "", fmt.Errorf("maximum subagent depth (%d) reached", toolpkg.MaxSubagentDepth)
	}

	tools := s.toolsFor(agentType)
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}

	system := ""
	if s.assembler != nil {
		system = s.assembler.Assemble(prompt.Context{
			AgentType: agentType,
			Provider:  s.provider,
			Model:     s.model,
			Workspace: s.workspace,
			Tools:     names,
		})
	}

	req := &entity.MessagesRequest{
		Model:    s.model,
		System:   entity.SystemPrompt(system),
		Messages: []entity.Message{entity.NewTextMessage(entity.RoleUser, task)},
		Tools:    toEntityTools(tools),
	}

	sess := entity.NewSession("sub-"+uuid.NewString(), true)
	s.logger.Debug("subagent spawned",
		zap.String("agent_type", agentType),
		zap.String("session_id", sess.ID),
		zap.Int("depth", depth+1))

	result := s.orchestrator.Run(toolpkg.WithDepth(ctx, depth+1), req, sess, service.Options{
		Provider: s.provider,
		Model:    s.model,
		AgentID:  agentType,
	})

	if result.Body == nil {
		return "", fmt.Errorf("subagent terminated without output: %s", result.TerminationReason)
	}
	return strings.TrimSpace(result.Body.Text()), nil
}

// toolsFor selects the tool profile for an agent type. Explore is the
// read-only profile; everything else gets the full set.
func (s *subagentRunner) toolsFor(agentType string) []domaintool.Definition {
	defs := s.registry.List()
	if !strings.EqualFold(agentType, "Explore") {
		// Drop Task itself so general-purpose profiles spend their depth
		// budget on work, not chains of delegation.
		kept := defs[:0]
		for _, d := range defs {
			if d.Name != "Task" {
				kept = append(kept, d)
			}
		}
		return kept
	}

	var kept []domaintool.Definition
	for _, d := range defs {
		h, ok := s.registry.Get(d.Name)
		if !ok {
			continue
		}
		switch h.Kind() {
		case domaintool.KindRead, domaintool.KindSearch, domaintool.KindFetch:
			kept = append(kept, d)
		}
	}
	return kept
}

func toEntityTools(defs []domaintool.Definition) []entity.Tool {
	tools := make([]entity.Tool, len(defs))
	for i, d := range defs {
		tools[i] = entity.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return tools
}
