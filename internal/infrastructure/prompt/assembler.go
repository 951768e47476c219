package prompt

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// charsPerToken mirrors the count_tokens estimator so budget truncation
// and token accounting agree.
const charsPerToken = 4

const truncationMarker = "\n\n[system prompt truncated]"

// Assembler builds complete system prompts for runs the gateway
// originates itself, such as subagents spawned by the Task tool. Client
// requests keep their own system prompt and never pass through here.
//
// A prompt is an environment block followed by every component whose
// requirements the context satisfies, sorted by priority.
type Assembler struct {
	mu         sync.RWMutex
	components []Component
	cache      map[string]string
	logger     *zap.Logger
	now        func() time.Time
}

func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		components: builtinComponents(),
		cache:      make(map[string]string),
		logger:     logger.Named("prompt"),
		now:        time.Now,
	}
}

// LoadOverlay merges operator components from dir into the built-in set.
// A file whose component name matches a built-in replaces it; others are
// added. Unparseable files are skipped with a warning. A missing dir is
// not an error, it just means no overlay.
func (a *Assembler) LoadOverlay(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		a.logger.Info("no prompt overlay directory", zap.String("dir", dir))
		return nil
	}
	if err != nil {
		return err
	}

	loaded, replaced := 0, 0
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		comp, err := ParseComponentFile(path)
		if err != nil {
			a.logger.Warn("skipping prompt component", zap.String("file", path), zap.Error(err))
			continue
		}
		if i := a.indexOf(comp.Name); i >= 0 {
			a.components[i] = comp
			replaced++
		} else {
			a.components = append(a.components, comp)
		}
		loaded++
	}
	a.cache = make(map[string]string)

	a.logger.Info("prompt overlay loaded",
		zap.String("dir", dir),
		zap.Int("components", loaded),
		zap.Int("replaced", replaced))
	return nil
}

func (a *Assembler) indexOf(name string) int {
	for i, c := range a.components {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Assemble returns the full system prompt for ctx. The component body is
// cached per selection key; the environment block carries the current
// time and is rendered fresh on every call.
func (a *Assembler) Assemble(ctx Context) string {
	prompt := runtimeBlock(ctx, a.now())
	if body := a.body(ctx); body != "" {
		prompt += "\n\n---\n\n" + body
	}

	if ctx.MaxTokenBudget > 0 {
		maxChars := ctx.MaxTokenBudget * charsPerToken
		if len(prompt) > maxChars {
			a.logger.Warn("system prompt truncated",
				zap.Int("budget_tokens", ctx.MaxTokenBudget),
				zap.Int("chars", len(prompt)))
			prompt = prompt[:maxChars] + truncationMarker
		}
	}
	return prompt
}

func (a *Assembler) body(ctx Context) string {
	key := ctx.key()

	a.mu.RLock()
	if cached, ok := a.cache[key]; ok {
		a.mu.RUnlock()
		return cached
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.cache[key]; ok {
		return cached
	}

	eligible := make([]Component, 0, len(a.components))
	for _, comp := range a.components {
		if comp.Requires.Satisfied(ctx) {
			eligible = append(eligible, comp)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority < eligible[j].Priority
	})

	sections := make([]string, 0, len(eligible))
	for _, comp := range eligible {
		sections = append(sections, comp.Content)
	}
	body := strings.Join(sections, "\n\n---\n\n")
	a.cache[key] = body
	return body
}

// ComponentCount returns the number of registered components.
func (a *Assembler) ComponentCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.components)
}
