package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoopState is one discrete phase of an orchestrator run.
type LoopState string

const (
	StateGuard       LoopState = "guard"       // pre-loop checks on the original payload
	StateShaping     LoopState = "shaping"     // step-1 context shaping
	StateInvoking    LoopState = "invoking"    // provider call in flight
	StateClassifying LoopState = "classifying" // deciding what the response was
	StateRecovering  LoopState = "recovering"  // nudge, subagent or synthesis retry
	StateExecuting   LoopState = "executing"   // tool calls running
	StateComplete    LoopState = "complete"    // terminal, answer produced
	StateFailed      LoopState = "failed"      // terminal, error return
)

// validTransitions encodes the loop's state diagram. Terminal states have
// no exits.
var validTransitions = map[LoopState]map[LoopState]bool{
	StateGuard: {
		StateShaping:  true,
		StateComplete: true, // tool-loop guard answers without entering the loop
		StateFailed:   true,
	},
	StateShaping: {
		StateInvoking: true,
		StateFailed:   true,
	},
	StateInvoking: {
		StateClassifying: true,
		StateComplete:    true, // streaming passthrough
		StateFailed:      true,
	},
	StateClassifying: {
		StateExecuting:  true,
		StateRecovering: true,
		StateComplete:   true,
		StateFailed:     true,
	},
	StateRecovering: {
		StateInvoking:  true,
		StateExecuting: true, // synthetic calls skip the next model turn
		StateComplete:  true, // empty-response fallback body
		StateFailed:    true,
	},
	StateExecuting: {
		StateInvoking: true,
		StateComplete: true, // passthrough return
		StateFailed:   true,
	},
	StateComplete: {},
	StateFailed:   {},
}

// StateSnapshot is the run's counters at one point in time.
type StateSnapshot struct {
	State             LoopState     `json:"state"`
	Step              int           `json:"step"`
	TokensUsed        int           `json:"tokens_used"`
	ToolCallsExecuted int           `json:"tool_calls_executed"`
	Elapsed           time.Duration `json:"elapsed"`
	Model             string        `json:"model,omitempty"`
	LastTool          string        `json:"last_tool,omitempty"`
}

// StateMachine tracks one run's phase and counters. Reads are safe from
// any goroutine; the loop is the only writer.
type StateMachine struct {
	mu                sync.RWMutex
	state             LoopState
	step              int
	tokensUsed        int
	toolCallsExecuted int
	startTime         time.Time
	model             string
	lastTool          string
	logger            *zap.Logger

	listeners []func(from, to LoopState, snap StateSnapshot)
}

// NewStateMachine starts a machine in the guard state.
func NewStateMachine(logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{
		state:     StateGuard,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state.
func (sm *StateMachine) State() LoopState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot copies the current counters.
func (sm *StateMachine) Snapshot() StateSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() StateSnapshot {
	return StateSnapshot{
		State:             sm.state,
		Step:              sm.step,
		TokensUsed:        sm.tokensUsed,
		ToolCallsExecuted: sm.toolCallsExecuted,
		Elapsed:           time.Since(sm.startTime),
		Model:             sm.model,
		LastTool:          sm.lastTool,
	}
}

// Transition moves to a new state, or fails when the diagram forbids it.
// A same-state transition is a no-op; the loop re-enters invoking on every
// step.
func (sm *StateMachine) Transition(to LoopState) error {
	sm.mu.Lock()
	from := sm.state
	if from == to {
		sm.mu.Unlock()
		return nil
	}

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid loop transition: %s to %s", from, to)
		sm.logger.Error("state machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to LoopState, snap StateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("loop state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("step", snap.Step))

	for _, fn := range listeners {
		fn(from, to, snap)
	}
	return nil
}

// OnTransition registers a listener invoked after every state change.
func (sm *StateMachine) OnTransition(fn func(from, to LoopState, snap StateSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// SetStep records the current step number.
func (sm *StateMachine) SetStep(step int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.step = step
}

// AddTokens accumulates reported token usage.
func (sm *StateMachine) AddTokens(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tokensUsed += n
}

// RecordToolExec counts one executed tool call.
func (sm *StateMachine) RecordToolExec(toolName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolCallsExecuted++
	sm.lastTool = toolName
}

// SetModel records the model that actually answered.
func (sm *StateMachine) SetModel(model string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.model = model
}

// Elapsed reports time since the run started.
func (sm *StateMachine) Elapsed() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.startTime)
}

// IsTerminal reports whether the machine reached complete or failed.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state == StateComplete || sm.state == StateFailed
}
