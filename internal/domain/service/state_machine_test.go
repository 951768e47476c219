package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// walk drives a machine through a path, failing the test on any step.
func walk(t *testing.T, sm *StateMachine, path ...LoopState) {
	t.Helper()
	for _, state := range path {
		if err := sm.Transition(state); err != nil {
			t.Fatalf("failed transition to %s: %v", state, err)
		}
	}
}

// === Creation ===

func TestNewStateMachine(t *testing.T) {
	sm := NewStateMachine(testLogger())
	if sm.State() != StateGuard {
		t.Errorf("expected initial state guard, got %s", sm.State())
	}
	if sm.IsTerminal() {
		t.Error("new state machine should not be terminal")
	}
}

// === Valid transitions ===

func TestTransition_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []LoopState
	}{
		{
			name: "guard -> complete (tool loop guard)",
			path: []LoopState{StateComplete},
		},
		{
			name: "plain completion",
			path: []LoopState{StateShaping, StateInvoking, StateClassifying, StateComplete},
		},
		{
			name: "one tool round trip",
			path: []LoopState{StateShaping, StateInvoking, StateClassifying, StateExecuting, StateInvoking, StateClassifying, StateComplete},
		},
		{
			name: "recovery nudge then completion",
			path: []LoopState{StateShaping, StateInvoking, StateClassifying, StateRecovering, StateInvoking, StateClassifying, StateComplete},
		},
		{
			name: "synthetic call skips the model turn",
			path: []LoopState{StateShaping, StateInvoking, StateClassifying, StateRecovering, StateExecuting, StateInvoking, StateClassifying, StateComplete},
		},
		{
			name: "streaming passthrough",
			path: []LoopState{StateShaping, StateInvoking, StateComplete},
		},
		{
			name: "provider fault",
			path: []LoopState{StateShaping, StateInvoking, StateFailed},
		},
		{
			name: "loop abort during execution",
			path: []LoopState{StateShaping, StateInvoking, StateClassifying, StateExecuting, StateFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(testLogger())
			walk(t, sm, tt.path...)
			last := tt.path[len(tt.path)-1]
			if sm.State() != last {
				t.Errorf("expected state %s, got %s", last, sm.State())
			}
		})
	}
}

func TestTransition_SameStateIsNoOp(t *testing.T) {
	sm := NewStateMachine(testLogger())
	walk(t, sm, StateShaping, StateInvoking)
	if err := sm.Transition(StateInvoking); err != nil {
		t.Fatalf("same-state transition should be a no-op, got %v", err)
	}
	if sm.State() != StateInvoking {
		t.Errorf("state changed on no-op: %s", sm.State())
	}
}

// === Invalid transitions ===

func TestTransition_InvalidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []LoopState
		to   LoopState
	}{
		{"guard -> executing", nil, StateExecuting},
		{"guard -> classifying", nil, StateClassifying},
		{"shaping -> executing", []LoopState{StateShaping}, StateExecuting},
		{"invoking -> recovering", []LoopState{StateShaping, StateInvoking}, StateRecovering},
		{"complete is terminal", []LoopState{StateComplete}, StateInvoking},
		{"failed is terminal", []LoopState{StateShaping, StateFailed}, StateShaping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(testLogger())
			walk(t, sm, tt.path...)
			if err := sm.Transition(tt.to); err == nil {
				t.Errorf("expected error for %s -> %s, got nil", sm.State(), tt.to)
			}
		})
	}
}

// === Terminal states ===

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		path     []LoopState
		terminal bool
	}{
		{nil, false},
		{[]LoopState{StateShaping}, false},
		{[]LoopState{StateShaping, StateInvoking}, false},
		{[]LoopState{StateShaping, StateInvoking, StateClassifying, StateExecuting}, false},
		{[]LoopState{StateComplete}, true},
		{[]LoopState{StateShaping, StateFailed}, true},
	}

	for _, tt := range tests {
		sm := NewStateMachine(testLogger())
		walk(t, sm, tt.path...)
		if sm.IsTerminal() != tt.terminal {
			t.Errorf("IsTerminal() in %s: got %v, want %v", sm.State(), sm.IsTerminal(), tt.terminal)
		}
	}
}

// === Counters ===

func TestCounters(t *testing.T) {
	sm := NewStateMachine(testLogger())

	sm.SetStep(3)
	sm.AddTokens(1000)
	sm.AddTokens(500)
	sm.RecordToolExec("Bash")
	sm.RecordToolExec("Read")
	sm.SetModel("qwen2.5-coder")

	snap := sm.Snapshot()
	if snap.Step != 3 {
		t.Errorf("Step: got %d, want 3", snap.Step)
	}
	if snap.TokensUsed != 1500 {
		t.Errorf("TokensUsed: got %d, want 1500", snap.TokensUsed)
	}
	if snap.ToolCallsExecuted != 2 {
		t.Errorf("ToolCallsExecuted: got %d, want 2", snap.ToolCallsExecuted)
	}
	if snap.LastTool != "Read" {
		t.Errorf("LastTool: got %s, want Read", snap.LastTool)
	}
	if snap.Model != "qwen2.5-coder" {
		t.Errorf("Model: got %s, want qwen2.5-coder", snap.Model)
	}
	if snap.Elapsed <= 0 {
		t.Error("Elapsed should be positive")
	}
}

// === OnTransition listener ===

func TestOnTransitionListener(t *testing.T) {
	sm := NewStateMachine(testLogger())

	var transitions []struct{ from, to LoopState }
	sm.OnTransition(func(from, to LoopState, snap StateSnapshot) {
		transitions = append(transitions, struct{ from, to LoopState }{from, to})
	})

	walk(t, sm, StateShaping, StateInvoking, StateClassifying, StateComplete)

	expected := []struct{ from, to LoopState }{
		{StateGuard, StateShaping},
		{StateShaping, StateInvoking},
		{StateInvoking, StateClassifying},
		{StateClassifying, StateComplete},
	}
	if len(transitions) != len(expected) {
		t.Fatalf("expected %d transitions, got %d", len(expected), len(transitions))
	}
	for i, exp := range expected {
		if transitions[i].from != exp.from || transitions[i].to != exp.to {
			t.Errorf("transition[%d]: got %s->%s, want %s->%s",
				i, transitions[i].from, transitions[i].to, exp.from, exp.to)
		}
	}
}

// === Thread safety ===

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	sm := NewStateMachine(testLogger())
	walk(t, sm, StateShaping, StateInvoking)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.State()
			_ = sm.Snapshot()
			_ = sm.IsTerminal()
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sm.AddTokens(100)
			sm.SetStep(n)
			sm.RecordToolExec("Bash")
		}(i)
	}
	wg.Wait()

	snap := sm.Snapshot()
	if snap.TokensUsed != 2000 {
		t.Errorf("concurrent TokensUsed: got %d, want 2000", snap.TokensUsed)
	}
	if snap.ToolCallsExecuted != 20 {
		t.Errorf("concurrent ToolCallsExecuted: got %d, want 20", snap.ToolCallsExecuted)
	}
}

// === Snapshot isolation ===

func TestSnapshot_Isolation(t *testing.T) {
	sm := NewStateMachine(testLogger())
	sm.SetStep(3)
	sm.AddTokens(500)

	snap1 := sm.Snapshot()

	sm.SetStep(8)
	sm.AddTokens(1000)

	snap2 := sm.Snapshot()

	if snap1.Step != 3 || snap1.TokensUsed != 500 {
		t.Error("snap1 was mutated after capture")
	}
	if snap2.Step != 8 || snap2.TokensUsed != 1500 {
		t.Errorf("snap2 wrong: step=%d tokens=%d", snap2.Step, snap2.TokensUsed)
	}
}

func TestElapsed_Increases(t *testing.T) {
	sm := NewStateMachine(testLogger())
	e1 := sm.Elapsed()
	time.Sleep(5 * time.Millisecond)
	e2 := sm.Elapsed()
	if e2 <= e1 {
		t.Errorf("elapsed should increase: %v <= %v", e2, e1)
	}
}
