package service

import "github.com/modelgate/modelgate/internal/domain/entity"

// ToolCallComparison reports how the conversation provider and the dedicated
// tool provider scored when both were asked for tool calls, and which
// proposal the loop went with.
type ToolCallComparison struct {
	ConversationScore  int    `json:"conversationScore"`
	ToolExecutionScore int    `json:"toolExecutionScore"`
	SelectedProvider   string `json:"selectedProvider"`
}

const (
	comparisonConversation  = "conversation"
	comparisonToolExecution = "tool_execution"
)

// ScoreToolCalls rates a batch of proposed tool calls. Each call earns a
// base score, a bonus for a usable name, and credit per argument; string
// values too short to carry information earn nothing. Calls the parser
// could not decode (raw payload carried under "_raw") are penalised.
func ScoreToolCalls(calls []entity.ToolCall) int {
	score := len(calls) * 10
	for _, call := range calls {
		if call.Name != "" {
			score += 5
		}
		for _, v := range call.Arguments {
			score += 2
			if s, ok := v.(string); ok && len(s) > 4 {
				score++
			}
		}
		if _, malformed := call.Arguments["_raw"]; malformed {
			score -= 5
		}
	}
	return score
}

// CompareToolCalls scores both proposals and picks a winner. Ties go to the
// dedicated tool provider, which is configured precisely because it is
// expected to produce the better calls.
func CompareToolCalls(conversation, toolExec []entity.ToolCall) *ToolCallComparison {
	cmp := &ToolCallComparison{
		ConversationScore:  ScoreToolCalls(conversation),
		ToolExecutionScore: ScoreToolCalls(toolExec),
	}
	if cmp.ToolExecutionScore >= cmp.ConversationScore {
		cmp.SelectedProvider = comparisonToolExecution
	} else {
		cmp.SelectedProvider = comparisonConversation
	}
	return cmp
}
