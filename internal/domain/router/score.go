package router

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Complexity scoring. Both modes produce 0-100; the weighted mode trades
// the coarse buckets for thirteen graded dimensions.

var (
	codeGenRe    = regexp.MustCompile(`(?i)\b(implement|write|create|build|refactor|fix|debug|add|generate)\b.*\b(function|class|method|module|endpoint|test|feature|bug|code|script|api)\b`)
	analysisRe   = regexp.MustCompile(`(?i)\b(analy[sz]e|review|explain|compare|evaluate|investigate|summari[sz]e)\b`)
	architectRe  = regexp.MustCompile(`(?i)\b(architect(ure)?|design|migrate|restructure|scalab|distributed)\b`)
	reasoningRe  = regexp.MustCompile(`(?i)\b(why|prove|derive|reason|step[- ]by[- ]step|think through|trade[- ]?offs?)\b`)
	ambiguityRe  = regexp.MustCompile(`(?i)\b(maybe|somehow|something like|not sure|kind of|sort of|etc\.?)\b`)
	identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*\(`)
	multiFileRe  = regexp.MustCompile(`(?i)\b(multiple files|across (the )?(files|modules|packages)|all (the )?(files|tests))\b`)
)

type signals struct {
	text       string
	lower      string
	chars      int
	toolCount  int
	msgCount   int
	codeFences int
	priorTools int
}

func collectSignals(req *entity.MessagesRequest) signals {
	var sb strings.Builder
	priorTools := 0
	for _, m := range req.Messages {
		sb.WriteString(m.FlatText())
		sb.WriteString("\n")
		priorTools += len(m.ToolResults())
	}
	text := req.LastUserText()
	if text == "" {
		text = req.LastMessage().FlatText()
	}
	full := sb.String()
	return signals{
		text:       text,
		lower:      strings.ToLower(text),
		chars:      len(full) + len(req.System),
		toolCount:  len(req.Tools),
		msgCount:   len(req.Messages),
		codeFences: strings.Count(full, "```"),
		priorTools: priorTools,
	}
}

// heuristicScore sums five capped buckets plus a conversation-depth bonus.
func heuristicScore(sig signals) int {
	score := 0

	// token-count bucket (0-20)
	tokens := sig.chars / 4
	switch {
	case tokens > 8000:
		score += 20
	case tokens > 4000:
		score += 16
	case tokens > 1500:
		score += 12
	case tokens > 500:
		score += 6
	default:
		score += 2
	}

	// tool-count bucket (0-20)
	switch {
	case sig.toolCount > 10:
		score += 20
	case sig.toolCount > 5:
		score += 15
	case sig.toolCount > 2:
		score += 10
	case sig.toolCount > 0:
		score += 5
	}

	// task-type bucket (0-25)
	switch {
	case architectRe.MatchString(sig.text):
		score += 25
	case codeGenRe.MatchString(sig.text):
		score += 18
	case analysisRe.MatchString(sig.text):
		score += 12
	default:
		score += 5
	}

	// code-complexity bucket (0-20)
	code := 0
	if sig.codeFences >= 2 {
		code += 8
	}
	if identifierRe.MatchString(sig.text) {
		code += 6
	}
	if multiFileRe.MatchString(sig.text) {
		code += 6
	}
	if code > 20 {
		code = 20
	}
	score += code

	// reasoning bucket (0-15)
	if reasoningRe.MatchString(sig.text) {
		score += 15
	}

	// conversation-depth bonus
	bonus := sig.msgCount / 4
	if bonus > 8 {
		bonus = 8
	}
	score += bonus

	if score > 100 {
		score = 100
	}
	return score
}

// weightedScore grades thirteen dimensions 0-100 and blends them with
// fixed weights that sum to 1.0.
func weightedScore(req *entity.MessagesRequest, sig signals) int {
	dims := []struct {
		weight float64
		value  float64
	}{
		{0.10, gradeTokens(sig.chars / 4)},
		{0.08, gradePromptComplexity(sig)},
		{0.09, gradeTechnicalDepth(sig)},
		{0.06, gradeDomainSpecificity(sig)},
		{0.08, gradeCount(sig.toolCount, 10)},
		{0.07, gradeToolComplexity(req)},
		{0.08, gradeToolChainPotential(sig)},
		{0.10, gradeMultiStepReasoning(sig)},
		{0.09, gradeCodeGeneration(sig)},
		{0.07, gradeAnalysisDepth(sig)},
		{0.06, gradeCount(sig.msgCount, 20)},
		{0.06, gradeCount(sig.priorTools, 8)},
		{0.06, gradeAmbiguity(sig)},
	}

	total := 0.0
	for _, d := range dims {
		total += d.weight * d.value
	}
	score := int(total + 0.5)
	if score > 100 {
		score = 100
	}
	return score
}

func gradeTokens(tokens int) float64 {
	switch {
	case tokens > 8000:
		return 100
	case tokens > 4000:
		return 80
	case tokens > 1500:
		return 60
	case tokens > 500:
		return 35
	default:
		return 10
	}
}

func gradePromptComplexity(sig signals) float64 {
	sentences := strings.Count(sig.text, ".") + strings.Count(sig.text, "?") + 1
	words := len(strings.Fields(sig.text))
	if words == 0 {
		return 0
	}
	grade := float64(sentences) * 8
	if words > 120 {
		grade += 40
	} else if words > 40 {
		grade += 20
	}
	return clamp100(grade)
}

func gradeTechnicalDepth(sig signals) float64 {
	grade := 0.0
	for _, term := range []string{"concurrency", "race", "deadlock", "protocol", "algorithm", "complexity", "latency", "transaction", "index", "schema", "kernel", "compiler"} {
		if strings.Contains(sig.lower, term) {
			grade += 25
		}
	}
	if identifierRe.MatchString(sig.text) {
		grade += 20
	}
	return clamp100(grade)
}

func gradeDomainSpecificity(sig signals) float64 {
	grade := 0.0
	for _, term := range []string{"kubernetes", "terraform", "postgres", "sqlite", "grpc", "websocket", "oauth", "jwt", "llvm", "wasm"} {
		if strings.Contains(sig.lower, term) {
			grade += 30
		}
	}
	return clamp100(grade)
}

func gradeCount(n, full int) float64 {
	if n <= 0 {
		return 0
	}
	if n >= full {
		return 100
	}
	return float64(n) / float64(full) * 100
}

func gradeToolComplexity(req *entity.MessagesRequest) float64 {
	if len(req.Tools) == 0 {
		return 0
	}
	grade := 0.0
	for _, t := range req.Tools {
		if b, err := json.Marshal(t.InputSchema); err == nil && len(b) > 300 {
			grade += 20
		}
	}
	return clamp100(grade)
}

func gradeToolChainPotential(sig signals) float64 {
	grade := 0.0
	if sig.toolCount > 3 {
		grade += 40
	}
	for _, term := range []string{"then", "after that", "first", "finally", "and then"} {
		if strings.Contains(sig.lower, term) {
			grade += 15
		}
	}
	return clamp100(grade)
}

func gradeMultiStepReasoning(sig signals) float64 {
	if reasoningRe.MatchString(sig.text) {
		return 90
	}
	if strings.Contains(sig.lower, "plan") || strings.Contains(sig.lower, "steps") {
		return 55
	}
	return 10
}

func gradeCodeGeneration(sig signals) float64 {
	switch {
	case codeGenRe.MatchString(sig.text):
		return 85
	case sig.codeFences > 0:
		return 50
	default:
		return 5
	}
}

func gradeAnalysisDepth(sig signals) float64 {
	switch {
	case architectRe.MatchString(sig.text):
		return 95
	case analysisRe.MatchString(sig.text):
		return 65
	default:
		return 10
	}
}

func gradeAmbiguity(sig signals) float64 {
	matches := ambiguityRe.FindAllString(sig.lower, -1)
	return clamp100(float64(len(matches)) * 30)
}

func clamp100(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
