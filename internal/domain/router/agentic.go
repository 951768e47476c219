package router

import (
	"regexp"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Agentic detection. Tools that change state make a workflow agentic;
// read-only tools alone point at lookup-style usage.
var agenticToolNames = map[string]bool{
	"Bash":        true,
	"Write":       true,
	"Edit":        true,
	"Task":        true,
	"MemoryWrite": true,
}

var readOnlyToolNames = map[string]bool{
	"Read":      true,
	"Ls":        true,
	"Glob":      true,
	"Grep":      true,
	"WebSearch": true,
	"WebFetch":  true,
}

var iterativeRe = regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|iterat(e|ively|ion)|figure out|keep (trying|going)|until (it|the tests?) pass)\b`)

var autonomousRe = regexp.MustCompile(`(?i)\b(multiple files|whole (project|codebase|repo)|end[- ]to[- ]end|autonomous|on your own|without asking)\b`)

// detectAgentic classifies the workflow shape a payload implies.
func detectAgentic(req *entity.MessagesRequest, sig signals) string {
	agentic, readOnly := 0, 0
	for _, t := range req.Tools {
		switch {
		case agenticToolNames[t.Name]:
			agentic++
		case readOnlyToolNames[t.Name]:
			readOnly++
		}
	}

	text := sig.text
	switch {
	case autonomousRe.MatchString(text) && agentic > 0:
		return entity.AgenticAutonomous
	case iterativeRe.MatchString(text) && (agentic > 0 || sig.priorTools > 2):
		return entity.AgenticIterative
	case agentic > 0 || sig.priorTools > 0:
		return entity.AgenticToolChain
	case readOnly > 0 && strings.TrimSpace(text) != "":
		return entity.AgenticToolChain
	default:
		return entity.AgenticSingleShot
	}
}

// minTierFor maps a workflow class to the lowest tier allowed to serve it.
func minTierFor(agentic string) entity.Tier {
	switch agentic {
	case entity.AgenticAutonomous:
		return entity.TierReasoning
	case entity.AgenticIterative:
		return entity.TierComplex
	case entity.AgenticToolChain:
		return entity.TierMedium
	default:
		return entity.TierSimple
	}
}
