package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the model catalog (configs/models.yaml): which models each
// provider serves, their context windows, tool support, and optional
// tier preferences. File order is preference order.
type Catalog struct {
	Providers []CatalogProvider `yaml:"providers"`
}

type CatalogProvider struct {
	Name   string         `yaml:"name"`
	Models []CatalogModel `yaml:"models"`
}

type CatalogModel struct {
	Name          string   `yaml:"name"`
	ContextWindow int      `yaml:"context_window"`
	SupportsTools bool     `yaml:"supports_tools"`
	Tier          string   `yaml:"tier"` // simple | medium | complex | reasoning
	Aliases       []string `yaml:"aliases"`
}

// LoadCatalog parses the catalog file. A missing file yields an empty
// catalog, since every entry it provides has an env or built-in fallback.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// Resolve finds a model by name or alias and returns its provider and
// canonical name. Matching is case-insensitive.
func (c *Catalog) Resolve(name string) (provider, model string, ok bool) {
	if m, p := c.find(name); m != nil {
		return p, m.Name, true
	}
	return "", "", false
}

// Window returns the catalog context window for a model, 0 if unknown.
func (c *Catalog) Window(name string) int {
	if m, _ := c.find(name); m != nil {
		return m.ContextWindow
	}
	return 0
}

// SupportsTools reports the catalog's tool-support flag for a model.
// Unknown models report false.
func (c *Catalog) SupportsTools(name string) bool {
	if m, _ := c.find(name); m != nil {
		return m.SupportsTools
	}
	return false
}

// TierDefaults returns one target per tier, taken from the first model
// declaring that tier. Explicit TIER_* settings override these.
func (c *Catalog) TierDefaults() map[string]ProviderModel {
	out := make(map[string]ProviderModel, 4)
	for _, p := range c.Providers {
		for _, m := range p.Models {
			tier := strings.ToLower(strings.TrimSpace(m.Tier))
			if tier == "" {
				continue
			}
			if _, taken := out[tier]; taken {
				continue
			}
			out[tier] = ProviderModel{Provider: p.Name, Model: m.Name}
		}
	}
	return out
}

func (c *Catalog) find(name string) (*CatalogModel, string) {
	if c == nil || name == "" {
		return nil, ""
	}
	for pi := range c.Providers {
		p := &c.Providers[pi]
		for mi := range p.Models {
			m := &p.Models[mi]
			if strings.EqualFold(m.Name, name) {
				return m, p.Name
			}
			for _, alias := range m.Aliases {
				if strings.EqualFold(alias, name) {
					return m, p.Name
				}
			}
		}
	}
	return nil, ""
}
