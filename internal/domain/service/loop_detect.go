package service

import (
	"fmt"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// identicalCallLimit is how many times the same tool call with identical
// arguments may run before the loop intervenes. The third occurrence gets a
// warning injected into the conversation; anything past that aborts the run.
const identicalCallLimit = 3

// LoopVerdict is the detector's ruling on one observed tool call.
type LoopVerdict int

const (
	LoopOK    LoopVerdict = iota
	LoopWarn              // inject a warning message, keep going
	LoopAbort             // terminate the run
)

// LoopDetector counts executed tool calls by signature within one request.
// Cached replays are observed too; a model stuck on a repeated call should
// be warned even when the executor never re-ran the tool.
type LoopDetector struct {
	counts map[string]int
	warned bool
	hinted bool
}

// NewLoopDetector creates a detector for a single run.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{counts: make(map[string]int)}
}

// Observe records one executed call and rules on it. The warning fires at
// most once per request; past the limit the verdict is abort.
func (d *LoopDetector) Observe(call entity.ToolCall) LoopVerdict {
	sig := call.Signature()
	d.counts[sig]++
	n := d.counts[sig]

	switch {
	case n > identicalCallLimit:
		return LoopAbort
	case n == identicalCallLimit && !d.warned:
		d.warned = true
		return LoopWarn
	default:
		return LoopOK
	}
}

// Count returns how often the call's signature has been observed.
func (d *LoopDetector) Count(call entity.ToolCall) int {
	return d.counts[call.Signature()]
}

// StopHint returns the one-time wind-down message once the total number of
// tool results in the request reaches the threshold. totalToolResults covers
// both results carried in by the client and results produced this run.
func (d *LoopDetector) StopHint(totalToolResults, threshold int) (string, bool) {
	if d.hinted || threshold <= 0 || totalToolResults < threshold {
		return "", false
	}
	d.hinted = true
	return fmt.Sprintf("You have already executed %d tool calls in this request. Finish up: stop calling tools and write your answer.", totalToolResults), true
}

// loopWarningMessage is injected as a user message when a call repeats at
// the limit.
func loopWarningMessage(call entity.ToolCall, count int) string {
	return fmt.Sprintf("You have repeated the same tool call (%s) with identical arguments %d times. Do not call it again; use the results you already have to answer.", call.Name, count)
}
