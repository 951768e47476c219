package tool

import (
	"testing"

	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

func TestRegisterBuiltins_MinimalDeps(t *testing.T) {
	registry := domaintool.NewRegistry()
	task := RegisterBuiltins(registry, Deps{WorkspaceRoot: t.TempDir()})

	if task == nil {
		t.Fatal("task tool not returned")
	}

	for _, name := range []string{"Read", "Write", "Edit", "Ls", "Glob", "Grep", "WebFetch", "Task"} {
		if !registry.Has(name) {
			t.Errorf("%s not registered", name)
		}
	}

	// Tools with missing dependencies stay out of the registry.
	for _, name := range []string{"Bash", "WebSearch", "MemoryWrite"} {
		if registry.Has(name) {
			t.Errorf("%s registered without its dependency", name)
		}
	}
}

func TestRegisterBuiltins_AliasesResolve(t *testing.T) {
	registry := domaintool.NewRegistry()
	RegisterBuiltins(registry, Deps{WorkspaceRoot: t.TempDir()})

	for alias, canonical := range map[string]string{
		"read_file":      "Read",
		"dir":            "Ls",
		"edit_patch":     "Edit",
		"workspace_list": "Ls",
	} {
		h, ok := registry.Get(alias)
		if !ok {
			t.Errorf("alias %q does not resolve", alias)
			continue
		}
		if h.Name() != canonical {
			t.Errorf("alias %q resolved to %q, want %q", alias, h.Name(), canonical)
		}
	}
}
