package entity

import "time"

// Progress event types emitted at orchestrator boundary crossings.
type ProgressEventType string

const (
	ProgressLoopStarted    ProgressEventType = "agent_loop_started"
	ProgressStepStarted    ProgressEventType = "agent_loop_step_started"
	ProgressModelStarted   ProgressEventType = "model_invocation_started"
	ProgressModelCompleted ProgressEventType = "model_invocation_completed"
	ProgressToolStarted    ProgressEventType = "tool_execution_started"
	ProgressToolCompleted  ProgressEventType = "tool_execution_completed"
	ProgressLoopCompleted  ProgressEventType = "agent_loop_completed"
	ProgressError          ProgressEventType = "error"
)

// PreviewLimit bounds tool request/response previews in progress events.
const PreviewLimit = 200

// ProgressEvent is one observability event. Fire-and-forget; delivery is
// best-effort and never back-pressures the loop.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	SessionID string            `json:"sessionId"`
	AgentID   string            `json:"agentId,omitempty"`
	Step      int               `json:"step,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	ToolName       string `json:"toolName,omitempty"`
	ToolUseID      string `json:"toolUseId,omitempty"`
	RequestPreview string `json:"requestPreview,omitempty"`
	ResultPreview  string `json:"resultPreview,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`

	TerminationReason string `json:"terminationReason,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Preview truncates s to the event preview limit.
func Preview(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	return s[:PreviewLimit]
}
