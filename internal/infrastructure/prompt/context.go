package prompt

import "strings"

// Context carries the runtime facts that decide which components join a
// synthesised system prompt. The gateway builds one of these whenever it
// originates a model call itself, which today means subagent runs.
type Context struct {
	// AgentType is the subagent flavour, e.g. "Explore" or "general-purpose".
	AgentType string

	// Provider is the backend provider id, e.g. "anthropic", "ollama".
	Provider string

	// Model is the resolved model identifier, shown in the environment block.
	Model string

	// Workspace is the directory tool handlers operate in.
	Workspace string

	// Tools lists the tool names available to this run, sorted by name.
	Tools []string

	// MaxTokenBudget caps the assembled prompt. 0 means unlimited.
	MaxTokenBudget int
}

// HasTool reports whether a specific tool is available.
func (c *Context) HasTool(name string) bool {
	for _, t := range c.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// HasAnyTool reports whether at least one of the named tools is available.
func (c *Context) HasAnyTool(names []string) bool {
	for _, name := range names {
		if c.HasTool(name) {
			return true
		}
	}
	return false
}

// key identifies the component selection this context produces. Only the
// fields component filtering reads belong here; the environment block and
// budget truncation are applied per call, outside the cache.
func (c *Context) key() string {
	return c.AgentType + "|" + c.Provider + "|" + strings.Join(c.Tools, ",")
}
