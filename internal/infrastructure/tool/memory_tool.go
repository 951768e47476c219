package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/memory"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

const maxMemoryContentLen = 4000

// MemoryWriteTool persists a fact into long-term memory so later
// requests can recall it through context injection.
type MemoryWriteTool struct {
	manager *memory.Manager
}

func NewMemoryWriteTool(manager *memory.Manager) *MemoryWriteTool {
	return &MemoryWriteTool{manager: manager}
}

func (t *MemoryWriteTool) Name() string { return "MemoryWrite" }

func (t *MemoryWriteTool) Kind() domaintool.Kind { return domaintool.KindCommunicate }

func (t *MemoryWriteTool) Description() string {
	return "Save a durable fact to long-term memory. Use for user preferences, project facts and decisions worth recalling in later conversations."
}

func (t *MemoryWriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":  map[string]any{"type": "string", "description": "The fact to remember, one self-contained statement"},
			"category": map[string]any{"type": "string", "description": "Optional grouping label, e.g. preference, project, decision"},
		},
		"required": []any{"content"},
	}
}

func (t *MemoryWriteTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	if t.manager == nil {
		return failure("memory is not configured")
	}

	content := strings.TrimSpace(stringArg(args, "content", "text", "fact"))
	if content == "" {
		return failure("content is required")
	}
	if len(content) > maxMemoryContentLen {
		return failure("content too long (%d chars, max %d); store a summary instead", len(content), maxMemoryContentLen)
	}

	meta := map[string]any{"source": "tool"}
	if category := strings.TrimSpace(stringArg(args, "category")); category != "" {
		meta["category"] = category
	}

	entry, err := t.manager.Remember(ctx, content, meta)
	if err != nil {
		return failure("save memory: %v", err)
	}

	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("Remembered (id %s)", entry.ID),
		Metadata: map[string]any{
			"memoryId": entry.ID,
		},
	}, nil
}
