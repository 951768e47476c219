package entity

// Complexity tiers. Score ranges are inclusive.
type Tier string

const (
	TierSimple    Tier = "SIMPLE"    // [0, 25]
	TierMedium    Tier = "MEDIUM"    // [26, 50]
	TierComplex   Tier = "COMPLEX"   // [51, 75]
	TierReasoning Tier = "REASONING" // [76, 100]
)

// TierForScore maps a 0-100 complexity score onto its tier.
func TierForScore(score int) Tier {
	switch {
	case score <= 25:
		return TierSimple
	case score <= 50:
		return TierMedium
	case score <= 75:
		return TierComplex
	default:
		return TierReasoning
	}
}

// Agentic workflow classes from the agentic detector.
const (
	AgenticSingleShot = "SINGLE_SHOT"
	AgenticToolChain  = "TOOL_CHAIN"
	AgenticIterative  = "ITERATIVE"
	AgenticAutonomous = "AUTONOMOUS"
)

// RoutingDecision is the smart router's verdict for one request.
type RoutingDecision struct {
	Provider      string `json:"provider"`
	Model         string `json:"model,omitempty"`
	Tier          Tier   `json:"tier"`
	Method        string `json:"method"`
	Reason        string `json:"reason"`
	Score         int    `json:"score"`
	Threshold     int    `json:"threshold"`
	Agentic       string `json:"agentic,omitempty"`
	CostOptimized bool   `json:"cost_optimized,omitempty"`
}
