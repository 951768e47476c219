package entity

import (
	"sync"
	"time"
)

// Turn types recorded in session history.
const (
	TurnMessage       = "message"
	TurnToolRequest   = "tool_request"
	TurnToolResult    = "tool_result"
	TurnError         = "error"
	TurnSystemWarning = "system_warning"
)

// MaxSessionTurns caps in-memory history; oldest turns evict first.
// Persisted history remains authoritative for non-ephemeral sessions.
const MaxSessionTurns = 100

// Turn is one entry in a session's history.
type Turn struct {
	Role      string         `json:"role"`
	Type      string         `json:"type"`
	Status    string         `json:"status,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the per-conversation state. One loop owns a session at a time;
// callers serialise through Lock/Unlock. Ephemeral sessions (server-minted
// id) are never persisted.
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	History   []Turn         `json:"history"`

	Ephemeral        bool   `json:"-"`
	PendingUserInput string `json:"-"`

	mu       sync.Mutex
	onAppend func(Turn)
}

// NewSession creates a session with the given id.
func NewSession(id string, ephemeral bool) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]any),
		Ephemeral: ephemeral,
	}
}

// Lock takes session ownership for the duration of one loop invocation.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases session ownership.
func (s *Session) Unlock() { s.mu.Unlock() }

// SetAppendHook installs a callback invoked with every stamped turn.
// It runs while the owner lock is held, so it must not block; stores use
// it to schedule durable appends off the request path.
func (s *Session) SetAppendHook(fn func(Turn)) { s.onAppend = fn }

// Append adds a turn, stamps it if unstamped, and evicts oldest-first past
// the cap. Timestamps stay monotonically non-decreasing within a session.
func (s *Session) Append(t Turn) Turn {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if n := len(s.History); n > 0 && t.Timestamp.Before(s.History[n-1].Timestamp) {
		t.Timestamp = s.History[n-1].Timestamp
	}
	s.History = append(s.History, t)
	if len(s.History) > MaxSessionTurns {
		s.History = s.History[len(s.History)-MaxSessionTurns:]
	}
	s.UpdatedAt = t.Timestamp
	if s.onAppend != nil {
		s.onAppend(t)
	}
	return t
}

// TurnCount returns the in-memory history length.
func (s *Session) TurnCount() int {
	return len(s.History)
}

// Snapshot deep-copies session state for debug rendering without holding
// the owner lock across serialisation.
func (s *Session) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]Turn, len(s.History))
	copy(history, s.History)
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return Session{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  meta,
		History:   history,
		Ephemeral: s.Ephemeral,
	}
}
