package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPriority = 50

// Component is one conditional block of a synthesised system prompt.
type Component struct {
	Name     string
	Priority int // lower sorts earlier
	Content  string
	Requires *Requires // nil means always included
}

// Requires gates a component on the runtime context. Every set condition
// must hold for the component to be included.
type Requires struct {
	// Tools requires ALL listed tools to be available.
	Tools []string `yaml:"tools"`

	// AnyTool requires at least one listed tool to be available.
	AnyTool []string `yaml:"any_tool"`

	// Providers restricts the component to these backend providers.
	Providers []string `yaml:"providers"`

	// AgentTypes restricts the component to these subagent flavours.
	AgentTypes []string `yaml:"agent_types"`
}

// Satisfied reports whether every set condition holds for ctx.
func (r *Requires) Satisfied(ctx Context) bool {
	if r == nil {
		return true
	}
	for _, t := range r.Tools {
		if !ctx.HasTool(t) {
			return false
		}
	}
	if len(r.AnyTool) > 0 && !ctx.HasAnyTool(r.AnyTool) {
		return false
	}
	if len(r.Providers) > 0 && !containsFold(r.Providers, ctx.Provider) {
		return false
	}
	if len(r.AgentTypes) > 0 && !containsFold(r.AgentTypes, ctx.AgentType) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// frontmatter is the YAML header of an on-disk component file.
type frontmatter struct {
	Name     string    `yaml:"name"`
	Priority *int      `yaml:"priority"`
	Requires *Requires `yaml:"requires"`
}

// ParseComponentFile reads a markdown component with optional YAML
// frontmatter:
//
//	---
//	name: web-guidance
//	priority: 40
//	requires:
//	  any_tool: [WebSearch, WebFetch]
//	---
//	Prompt text...
//
// A file without frontmatter becomes an unconditional component named
// after the file at the default priority.
func ParseComponentFile(path string) (Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Component{}, fmt.Errorf("read component file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	content := string(data)
	comp := Component{Name: name, Priority: defaultPriority}

	if !strings.HasPrefix(content, "---") {
		comp.Content = strings.TrimSpace(content)
		return comp, nil
	}

	rest := content[len("---"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return Component{}, fmt.Errorf("unclosed frontmatter in %s", path)
	}
	header, body := rest[:idx], rest[idx+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Component{}, fmt.Errorf("parse frontmatter in %s: %w", path, err)
	}
	if fm.Name != "" {
		comp.Name = fm.Name
	}
	if fm.Priority != nil {
		comp.Priority = *fm.Priority
	}
	comp.Requires = fm.Requires
	comp.Content = strings.TrimSpace(body)
	return comp, nil
}
