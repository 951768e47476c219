package entity

import (
	"encoding/json"
	"testing"
	"time"
)

// === BlockList Decoding Tests ===

func TestBlockList_StringContent(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(m.Content) != 1 || m.Content[0].Type != BlockText || m.Content[0].Text != "hi" {
		t.Fatalf("string content should normalise to one text block, got %+v", m.Content)
	}
}

func TestBlockList_BlockArray(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"text","text":"checking"},
		{"type":"tool_use","id":"tu1","name":"Read","input":{"file_path":"a.txt"}}
	]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(m.Content) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(m.Content))
	}
	if m.Content[1].Name != "Read" || m.Content[1].Input["file_path"] != "a.txt" {
		t.Fatalf("tool_use block lost fields: %+v", m.Content[1])
	}
}

func TestBlockList_NestedToolResultContent(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu1","content":[{"type":"text","text":"file body"}]}
	]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m.Content[0].Content != "file body" {
		t.Fatalf("nested result content should flatten, got %q", m.Content[0].Content)
	}
}

func TestBlockList_StringToolResultContent(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu1","content":"plain","is_error":true}
	]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m.Content[0].Content != "plain" || !m.Content[0].IsError {
		t.Fatalf("string result content mishandled: %+v", m.Content[0])
	}
}

// === SystemPrompt Tests ===

func TestSystemPrompt_String(t *testing.T) {
	var r MessagesRequest
	if err := json.Unmarshal([]byte(`{"model":"m","messages":[],"system":"be brief"}`), &r); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if r.System.String() != "be brief" {
		t.Fatalf("got %q", r.System)
	}
}

func TestSystemPrompt_BlockArray(t *testing.T) {
	raw := `{"model":"m","messages":[],"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`
	var r MessagesRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if r.System.String() != "a\n\nb" {
		t.Fatalf("got %q", r.System)
	}
}

// === Signature Tests ===

func TestToolCall_SignatureStable(t *testing.T) {
	a := ToolCall{Name: "Bash", Arguments: map[string]any{"command": "ls", "timeout": 5}}
	b := ToolCall{Name: "Bash", Arguments: map[string]any{"timeout": 5, "command": "ls"}}
	if a.Signature() != b.Signature() {
		t.Fatal("signature must not depend on map iteration order")
	}
	if len(a.Signature()) != 16 {
		t.Fatalf("signature length should be 16, got %d", len(a.Signature()))
	}
}

func TestToolCall_SignatureDiffers(t *testing.T) {
	a := ToolCall{Name: "Bash", Arguments: map[string]any{"command": "ls"}}
	b := ToolCall{Name: "Bash", Arguments: map[string]any{"command": "pwd"}}
	if a.Signature() == b.Signature() {
		t.Fatal("different arguments must hash differently")
	}
}

// === Session Tests ===

func TestSession_AppendCapsHistory(t *testing.T) {
	s := NewSession("s1", false)
	for i := 0; i < MaxSessionTurns+10; i++ {
		s.Append(Turn{Role: RoleUser, Type: TurnMessage, Content: "x"})
	}
	if s.TurnCount() != MaxSessionTurns {
		t.Fatalf("history should cap at %d, got %d", MaxSessionTurns, s.TurnCount())
	}
}

func TestSession_TimestampsMonotonic(t *testing.T) {
	s := NewSession("s1", false)
	past := time.Now().Add(-time.Hour)
	s.Append(Turn{Role: RoleUser, Type: TurnMessage, Content: "a"})
	s.Append(Turn{Role: RoleAssistant, Type: TurnMessage, Content: "b", Timestamp: past})
	if s.History[1].Timestamp.Before(s.History[0].Timestamp) {
		t.Fatal("timestamps must be non-decreasing")
	}
}

// === Request Helper Tests ===

func TestRequest_BodySessionIDPrecedence(t *testing.T) {
	r := MessagesRequest{SessionIDAlt: "alt", ConversationID: "conv"}
	if got := r.BodySessionID(); got != "alt" {
		t.Fatalf("expected sessionId before conversation_id, got %q", got)
	}
	r.SessionID = "primary"
	if got := r.BodySessionID(); got != "primary" {
		t.Fatalf("expected session_id first, got %q", got)
	}
}

func TestRequest_LastUserTextSkipsToolResults(t *testing.T) {
	r := MessagesRequest{Messages: []Message{
		NewTextMessage(RoleUser, "real question"),
		{Role: RoleAssistant, Content: BlockList{ToolUseBlock("tu1", "Read", nil)}},
		{Role: RoleUser, Content: BlockList{ToolResultBlock("tu1", "data", false)}},
	}}
	if got := r.LastUserText(); got != "real question" {
		t.Fatalf("expected last textual user message, got %q", got)
	}
}
