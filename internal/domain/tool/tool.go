package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind classifies what a tool does; policy decisions key off it.
type Kind string

const (
	KindRead        Kind = "read"
	KindEdit        Kind = "edit"
	KindExecute     Kind = "execute"
	KindDelete      Kind = "delete"
	KindSearch      Kind = "search"
	KindFetch       Kind = "fetch"
	KindThink       Kind = "think"
	KindCommunicate Kind = "communicate"
)

// MutatorKinds are the kinds that change state outside the conversation.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds are read-only kinds that any policy admits.
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// Tool execution modes. In client and passthrough modes the loop returns
// tool_use blocks to the caller instead of executing, except for the
// server-side-always set.
const (
	ExecModeServer      = "server"
	ExecModeClient      = "client"
	ExecModePassthrough = "passthrough"
)

// ServerSideAlways names the tools that run in-process regardless of the
// configured execution mode.
var ServerSideAlways = map[string]bool{
	"Task":      true,
	"WebSearch": true,
	"WebFetch":  true,
}

// Handler is one executable tool.
type Handler interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is what a handler returns; the executor normalises it into the
// canonical tool-result shape.
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]any
	Error    string
}

// DisplayOrOutput prefers the rich Display text, falling back to Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// Definition is the provider-facing tool description.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Registry resolves tool names to handlers. Lookup is case-insensitive and
// alias-aware; categories may register lazily on first use of any member.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Handler // canonical name → handler
	index      map[string]string  // lowercase name/alias → canonical name
	categories map[string]*lazyCategory
	memberOf   map[string]string // lowercase member name → category
}

type lazyCategory struct {
	once   sync.Once
	loader func() []Handler
}

// NewRegistry creates an empty registry with the builtin alias table.
func NewRegistry() *Registry {
	r := &Registry{
		tools:      make(map[string]Handler),
		index:      make(map[string]string),
		categories: make(map[string]*lazyCategory),
		memberOf:   make(map[string]string),
	}
	for alias, canonical := range builtinAliases {
		r.index[alias] = canonical
	}
	return r
}

// Register adds a handler under its canonical name.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = h
	r.index[strings.ToLower(name)] = name
	return nil
}

// Unregister removes a handler.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, ok := r.resolveLocked(name)
	if !ok {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, canonical)
	delete(r.index, strings.ToLower(canonical))
	return nil
}

// RegisterLazyCategory defers registration of a tool group until any
// member is first resolved. members are the tool names the loader will
// provide.
func (r *Registry) RegisterLazyCategory(category string, members []string, loader func() []Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.categories[category] = &lazyCategory{loader: loader}
	for _, m := range members {
		r.memberOf[strings.ToLower(m)] = category
	}
}

// Get resolves a name (case-insensitive, alias-aware) to its handler,
// loading the owning lazy category on first touch.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	canonical, ok := r.resolveLocked(name)
	if ok {
		h, exists := r.tools[canonical]
		r.mu.RUnlock()
		return h, exists
	}
	category, isLazy := r.memberOf[strings.ToLower(name)]
	r.mu.RUnlock()

	if !isLazy {
		return nil, false
	}
	r.loadCategory(category)

	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok = r.resolveLocked(name)
	if !ok {
		return nil, false
	}
	h, exists := r.tools[canonical]
	return h, exists
}

func (r *Registry) loadCategory(category string) {
	r.mu.RLock()
	lc := r.categories[category]
	r.mu.RUnlock()
	if lc == nil {
		return
	}
	lc.once.Do(func() {
		for _, h := range lc.loader() {
			// A category may redeclare an already-registered tool.
			_ = r.Register(h)
		}
	})
}

// Has reports whether a name resolves, without triggering lazy loads.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolveLocked(name)
	if ok {
		return true
	}
	_, lazy := r.memberOf[strings.ToLower(name)]
	return lazy
}

// Canonical returns the canonical name for a possibly-aliased name.
func (r *Registry) Canonical(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.resolveLocked(name); ok {
		return canonical
	}
	return name
}

// List returns the definitions of every registered handler, sorted by
// name so prompts and cache keys render stably.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, h := range r.tools {
		defs = append(defs, Definition{
			Name:        h.Name(),
			Description: h.Description(),
			InputSchema: h.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// resolveLocked maps any spelling to the canonical registered name.
// Caller holds at least a read lock.
func (r *Registry) resolveLocked(name string) (string, bool) {
	if _, ok := r.tools[name]; ok {
		return name, true
	}
	canonical, ok := r.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	if _, registered := r.tools[canonical]; !registered {
		return "", false
	}
	return canonical, true
}
