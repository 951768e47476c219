package router

import (
	"os"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// ProviderModel is one (provider, model) routing target.
type ProviderModel struct {
	Provider string
	Model    string
}

// defaultTierTargets is the built-in tier map used when neither the
// environment nor the catalog overrides a tier.
var defaultTierTargets = map[entity.Tier]ProviderModel{
	entity.TierSimple:    {Provider: "ollama", Model: "qwen3:8b"},
	entity.TierMedium:    {Provider: "anthropic", Model: "claude-3-5-haiku-latest"},
	entity.TierComplex:   {Provider: "anthropic", Model: "claude-sonnet-4-5"},
	entity.TierReasoning: {Provider: "anthropic", Model: "claude-opus-4-1"},
}

// LoadTierOverridesFromEnv reads TIER_SIMPLE, TIER_MEDIUM, TIER_COMPLEX
// and TIER_REASONING, each formatted as provider:model.
func LoadTierOverridesFromEnv() map[entity.Tier]ProviderModel {
	out := make(map[entity.Tier]ProviderModel)
	for _, tier := range []entity.Tier{entity.TierSimple, entity.TierMedium, entity.TierComplex, entity.TierReasoning} {
		raw := os.Getenv("TIER_" + string(tier))
		if raw == "" {
			continue
		}
		if pm, ok := parseProviderModel(raw); ok {
			out[tier] = pm
		}
	}
	return out
}

func parseProviderModel(raw string) (ProviderModel, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ProviderModel{}, false
	}
	return ProviderModel{Provider: parts[0], Model: parts[1]}, true
}

// resolveTier walks override map, catalog preferences, then the built-in
// defaults.
func (r *Router) resolveTier(tier entity.Tier) ProviderModel {
	if pm, ok := r.cfg.TierOverrides[tier]; ok {
		return pm
	}
	for provider, byTier := range r.cfg.Preferred {
		if model, ok := byTier[tier]; ok && model != "" {
			return ProviderModel{Provider: provider, Model: model}
		}
	}
	return defaultTierTargets[tier]
}

// tierCandidates lists every target able to serve a tier, for the cost
// optimiser to choose between.
func (r *Router) tierCandidates(tier entity.Tier) []ProviderModel {
	var out []ProviderModel
	if pm, ok := r.cfg.TierOverrides[tier]; ok {
		out = append(out, pm)
	}
	for provider, byTier := range r.cfg.Preferred {
		if model, ok := byTier[tier]; ok && model != "" {
			out = append(out, ProviderModel{Provider: provider, Model: model})
		}
	}
	if len(out) == 0 {
		out = append(out, defaultTierTargets[tier])
	}
	return out
}
