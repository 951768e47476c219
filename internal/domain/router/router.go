package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Threshold modes. Scores below the threshold stay on the local provider.
const (
	ModeAggressive   = "aggressive"
	ModeHeuristic    = "heuristic"
	ModeConservative = "conservative"
)

var modeThresholds = map[string]int{
	ModeAggressive:   60,
	ModeHeuristic:    40,
	ModeConservative: 25,
}

// PriceSource answers per-million-token prices for cost optimisation.
type PriceSource interface {
	Price(provider, model string) (input, output float64, ok bool)
}

// Config tunes the routing pipeline.
type Config struct {
	Mode                     string // aggressive | heuristic | conservative
	UseWeightedScoring       bool
	OllamaMaxToolsForRouting int
	CloudFallbackEnabled     bool
	CostOptimization         bool

	LocalProvider           string
	LocalModel              string
	LocalModelSupportsTools bool

	TierOverrides map[entity.Tier]ProviderModel
	Preferred     map[string]map[entity.Tier]string
}

func DefaultConfig() *Config {
	return &Config{
		Mode:                     ModeHeuristic,
		OllamaMaxToolsForRouting: 4,
		CloudFallbackEnabled:     true,
		LocalProvider:            "ollama",
		LocalModel:               "qwen3:8b",
		LocalModelSupportsTools:  true,
	}
}

// Router picks the provider and model for one payload.
type Router struct {
	cfg    *Config
	prices PriceSource
	logger *zap.Logger
}

func NewRouter(cfg *Config, prices PriceSource, logger *zap.Logger) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHeuristic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, prices: prices, logger: logger.Named("router")}
}

// Threshold returns the local/cloud cutoff for the configured mode.
func (r *Router) Threshold() int {
	if t, ok := modeThresholds[r.cfg.Mode]; ok {
		return t
	}
	return modeThresholds[ModeHeuristic]
}

// DetermineProvider runs the pipeline: force patterns, tool-count rule,
// complexity scoring, agentic boost, tier resolution, cost optimisation.
func (r *Router) DetermineProvider(req *entity.MessagesRequest) entity.RoutingDecision {
	sig := collectSignals(req)
	threshold := r.Threshold()

	// 1. Force patterns.
	switch matchForce(sig.text) {
	case "local":
		return r.finish(entity.RoutingDecision{
			Provider:  r.cfg.LocalProvider,
			Model:     r.cfg.LocalModel,
			Tier:      entity.TierSimple,
			Method:    "force_local",
			Reason:    "trivial conversational turn",
			Threshold: threshold,
		})
	case "cloud":
		decision := entity.RoutingDecision{
			Tier:      entity.TierReasoning,
			Method:    "force_cloud",
			Reason:    "heavyweight review request",
			Score:     100,
			Threshold: threshold,
		}
		pm := r.pickForTier(entity.TierReasoning, &decision)
		decision.Provider, decision.Model = pm.Provider, pm.Model
		return r.finish(decision)
	}

	// 2. Tool-count threshold.
	if sig.toolCount > 0 {
		if sig.toolCount <= r.cfg.OllamaMaxToolsForRouting && r.cfg.LocalModelSupportsTools {
			return r.finish(entity.RoutingDecision{
				Provider:  r.cfg.LocalProvider,
				Model:     r.cfg.LocalModel,
				Tier:      entity.TierSimple,
				Method:    "tool_count",
				Reason:    fmt.Sprintf("%d tools within local budget", sig.toolCount),
				Threshold: threshold,
			})
		}
		if sig.toolCount > r.cfg.OllamaMaxToolsForRouting && r.cfg.CloudFallbackEnabled {
			score := r.score(req, sig)
			agentic := detectAgentic(req, sig)
			tier := maxTier(entity.TierForScore(score), minTierFor(agentic), entity.TierMedium)
			decision := entity.RoutingDecision{
				Tier:      tier,
				Method:    "tool_count",
				Reason:    fmt.Sprintf("%d tools exceed local budget", sig.toolCount),
				Score:     score,
				Threshold: threshold,
				Agentic:   agentic,
			}
			pm := r.pickForTier(tier, &decision)
			decision.Provider, decision.Model = pm.Provider, pm.Model
			return r.finish(decision)
		}
	}

	// 3-6. Score, boost, resolve, optimise.
	return r.finish(r.scoreAndResolve(req, sig, threshold))
}

func (r *Router) score(req *entity.MessagesRequest, sig signals) int {
	if r.cfg.UseWeightedScoring {
		return weightedScore(req, sig)
	}
	return heuristicScore(sig)
}

func (r *Router) scoreAndResolve(req *entity.MessagesRequest, sig signals, threshold int) entity.RoutingDecision {
	score := r.score(req, sig)
	method := "heuristic"
	if r.cfg.UseWeightedScoring {
		method = "weighted"
	}

	agentic := detectAgentic(req, sig)
	tier := entity.TierForScore(score)
	if min := minTierFor(agentic); tierRank(tier) < tierRank(min) {
		tier = min
		method = "agentic"
	}

	decision := entity.RoutingDecision{
		Tier:      tier,
		Method:    method,
		Score:     score,
		Threshold: threshold,
		Agentic:   agentic,
		Reason:    fmt.Sprintf("complexity %d (%s)", score, agentic),
	}

	// Below threshold stays local, unless the workflow is autonomous or
	// the payload binds tools the local model cannot run.
	localCanServe := sig.toolCount == 0 || r.cfg.LocalModelSupportsTools
	if score < threshold && agentic != entity.AgenticAutonomous &&
		tierRank(tier) <= tierRank(entity.TierMedium) && localCanServe {
		decision.Provider = r.cfg.LocalProvider
		decision.Model = r.cfg.LocalModel
		return decision
	}

	pm := r.pickForTier(tier, &decision)
	decision.Provider = pm.Provider
	decision.Model = pm.Model
	return decision
}

// pickForTier resolves a tier to a target, letting the cost optimiser
// choose between candidates when enabled.
func (r *Router) pickForTier(tier entity.Tier, decision *entity.RoutingDecision) ProviderModel {
	if !r.cfg.CostOptimization || r.prices == nil {
		return r.resolveTier(tier)
	}
	candidates := r.tierCandidates(tier)
	best := candidates[0]
	bestCost := -1.0
	for _, c := range candidates {
		in, out, ok := r.prices.Price(c.Provider, c.Model)
		if !ok {
			continue
		}
		cost := in + out
		if bestCost < 0 || cost < bestCost {
			bestCost = cost
			best = c
		}
	}
	if bestCost >= 0 {
		decision.CostOptimized = true
	}
	return best
}

func (r *Router) finish(d entity.RoutingDecision) entity.RoutingDecision {
	r.logger.Debug("routing decision",
		zap.String("provider", d.Provider),
		zap.String("model", d.Model),
		zap.String("tier", string(d.Tier)),
		zap.String("method", d.Method),
		zap.Int("score", d.Score),
		zap.String("agentic", d.Agentic))
	return d
}

func tierRank(t entity.Tier) int {
	switch t {
	case entity.TierSimple:
		return 0
	case entity.TierMedium:
		return 1
	case entity.TierComplex:
		return 2
	default:
		return 3
	}
}

func maxTier(tiers ...entity.Tier) entity.Tier {
	best := entity.TierSimple
	for _, t := range tiers {
		if tierRank(t) > tierRank(best) {
			best = t
		}
	}
	return best
}
