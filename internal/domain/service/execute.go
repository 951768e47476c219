package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

// maxConcurrentTasks bounds the Task fan-out within one assistant turn.
// Everything else runs sequentially to preserve side-effect ordering.
const maxConcurrentTasks = 4

const taskToolName = "Task"

// stepOutcome is what one tool-execution pass hands back to the loop: a
// nil result means fold happened and the loop takes another step.
type stepOutcome struct {
	result *Result
}

// callExecution pairs a call with whatever stood in for running it.
type callExecution struct {
	call   entity.ToolCall
	res    entity.ToolResult
	denied bool
	cached bool
}

// executeCalls runs one assistant turn's tool calls and folds the results
// back into the conversation. Denied calls fold as is_error results and do
// not count as executed. Returns a terminal result when a limit or the
// loop detector ends the run, or when a non-server execution mode hands
// the calls back to the caller.
func (o *Orchestrator) executeCalls(ctx context.Context, r *runState, resp *entity.MessagesResponse, calls []entity.ToolCall) stepOutcome {
	if o.cfg.ToolExecutionMode != domaintool.ExecModeServer {
		if res := o.hybridReturn(ctx, r, resp, calls); res != nil {
			return stepOutcome{result: res}
		}
		// Every call was server-side-always; execute in-process as usual.
	}

	// Canonical assistant turn: surviving text plus one tool_use block per
	// deduped call, so each folded result references a block that exists.
	r.req.Messages = append(r.req.Messages, assistantToolTurn(resp, calls))

	execs := o.runCalls(ctx, r, calls)

	fold := make(entity.BlockList, 0, len(execs))
	for _, exec := range execs {
		fold = append(fold, exec.res.ResultBlock())
		o.recordToolTurns(r, exec)
	}
	r.req.Messages = append(r.req.Messages, entity.Message{Role: entity.RoleUser, Content: fold})
	r.req.LetMeSynthetic = false

	// Count executions and rule on repeats only after the whole turn
	// folded; a terminal here must leave a well-formed conversation.
	var warnCall *entity.ToolCall
	for i := range execs {
		exec := &execs[i]
		if exec.denied {
			continue
		}
		r.toolCallsExecuted++
		r.sm.RecordToolExec(exec.call.Name)

		switch r.detector.Observe(exec.call) {
		case LoopAbort:
			return stepOutcome{result: o.abortOnLoop(ctx, r, exec.call)}
		case LoopWarn:
			warnCall = &exec.call
		}
	}

	if r.toolCallsExecuted > r.limits.MaxToolCalls {
		return stepOutcome{result: o.limitExceeded(ctx, r, entity.TermMaxToolCallsExceeded, 500,
			fmt.Sprintf("run exceeded maxToolCallsPerRequest (%d)", r.limits.MaxToolCalls),
			"Raise POLICY_MAX_TOOL_CALLS_PER_REQUEST to allow more tool calls.")}
	}

	if warnCall != nil {
		warning := loopWarningMessage(*warnCall, r.detector.Count(*warnCall))
		r.req.Messages = append(r.req.Messages, entity.NewTextMessage(entity.RoleUser, warning))
		r.sess.Append(entity.Turn{
			Role:    entity.RoleSystem,
			Type:    entity.TurnSystemWarning,
			Content: entity.Preview(warning),
		})
		o.deps.Logger.Warn("repeated tool call",
			zap.String("tool", warnCall.Name),
			zap.Int("count", r.detector.Count(*warnCall)))
	}

	if hint, ok := r.detector.StopHint(r.preloopToolResults+r.toolCallsExecuted, o.cfg.ToolLoopThreshold); ok {
		r.req.Messages = append(r.req.Messages, entity.NewTextMessage(entity.RoleUser, hint))
	}

	return stepOutcome{}
}

// runCalls executes the turn's calls: Task calls fan out concurrently when
// more than one is present, everything else runs in order. Results come
// back in call order regardless.
func (o *Orchestrator) runCalls(ctx context.Context, r *runState, calls []entity.ToolCall) []callExecution {
	taskCount := 0
	for _, c := range calls {
		if o.deps.Tools.Canonical(c.Name) == taskToolName {
			taskCount++
		}
	}

	execs := make([]callExecution, len(calls))
	baseCount := r.toolCallsExecuted
	executed := baseCount

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentTasks)

	for i, call := range calls {
		if taskCount > 1 && o.deps.Tools.Canonical(call.Name) == taskToolName {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, call entity.ToolCall) {
				defer wg.Done()
				defer func() { <-sem }()
				execs[i] = o.runOne(ctx, r, call, baseCount)
			}(i, call)
			continue
		}
		execs[i] = o.runOne(ctx, r, call, executed)
		if !execs[i].denied {
			executed++
		}
	}

	wg.Wait()
	return execs
}

// runOne takes one call through policy, the result cache and the executor.
func (o *Orchestrator) runOne(ctx context.Context, r *runState, call entity.ToolCall, executedSoFar int) callExecution {
	if o.deps.Policy != nil {
		if decision := o.deps.Policy.Evaluate(call, executedSoFar); !decision.Allowed {
			o.deps.Logger.Warn("tool call denied",
				zap.String("tool", call.Name),
				zap.String("code", decision.Code))
			return callExecution{call: call, res: decision.DenialResult(call), denied: true}
		}
	}

	kind := o.deps.Tools.KindOf(call.Name)
	cacheable := r.cache != nil && r.cache.Cacheable(kind)
	if cacheable {
		if res, ok := r.cache.Get(call); ok {
			o.deps.Logger.Debug("tool result replayed",
				zap.String("tool", call.Name),
				zap.String("signature", call.Signature()))
			return callExecution{call: call, res: res, cached: true}
		}
	}

	o.emit(ctx, r, entity.ProgressToolStarted, func(e *entity.ProgressEvent) {
		e.ToolName = call.Name
		e.ToolUseID = call.ID
		e.RequestPreview = entity.Preview(argumentPreview(call))
	})

	t0 := time.Now()
	res := o.deps.Tools.Execute(ctx, call, executedSoFar)

	o.emit(ctx, r, entity.ProgressToolCompleted, func(e *entity.ProgressEvent) {
		e.ToolName = call.Name
		e.ToolUseID = call.ID
		e.ResultPreview = entity.Preview(res.Content)
		e.DurationMs = time.Since(t0).Milliseconds()
		if !res.OK {
			e.Error = entity.Preview(res.Content)
		}
	})

	if cacheable && res.OK {
		r.cache.Put(call, res)
	}
	return callExecution{call: call, res: res}
}

// hybridReturn implements the client and passthrough execution modes:
// tool_use blocks are handed back to the caller unexecuted, except the
// server-side-always set, which still runs in-process with its results
// folded into the body as text. Returns nil when no call is for the
// caller, in which case normal in-process execution proceeds.
func (o *Orchestrator) hybridReturn(ctx context.Context, r *runState, resp *entity.MessagesResponse, calls []entity.ToolCall) *Result {
	var serverCalls, clientCalls []entity.ToolCall
	for _, c := range calls {
		if domaintool.ServerSideAlways[o.deps.Tools.Canonical(c.Name)] {
			serverCalls = append(serverCalls, c)
		} else {
			clientCalls = append(clientCalls, c)
		}
	}
	if len(clientCalls) == 0 {
		return nil
	}

	blocks := make([]entity.ContentBlock, 0, len(resp.Content)+len(clientCalls))
	for _, b := range resp.Content {
		if b.Type != entity.BlockToolUse {
			blocks = append(blocks, b)
		}
	}

	for _, call := range serverCalls {
		exec := o.runOne(ctx, r, call, r.toolCallsExecuted)
		o.recordToolTurns(r, exec)
		if !exec.denied {
			r.toolCallsExecuted++
			r.sm.RecordToolExec(exec.call.Name)
			_ = r.detector.Observe(exec.call)
		}
		blocks = append(blocks, entity.TextBlock(foldedResultText(exec)))
	}
	for _, c := range clientCalls {
		blocks = append(blocks, c.ToolUseBlockOf())
	}

	resp.Content = blocks
	resp.StopReason = entity.StopToolUse

	o.deps.Logger.Info("returning tool calls to caller",
		zap.String("mode", o.cfg.ToolExecutionMode),
		zap.Int("client_calls", len(clientCalls)),
		zap.Int("server_calls", len(serverCalls)))

	_ = r.sm.Transition(StateComplete)
	return o.finish(ctx, r, resp, entity.TermToolUse, 200)
}

// abortOnLoop terminates the run after a call repeated past the limit.
func (o *Orchestrator) abortOnLoop(ctx context.Context, r *runState, call entity.ToolCall) *Result {
	count := r.detector.Count(call)
	o.deps.Logger.Error("tool call loop",
		zap.String("tool", call.Name),
		zap.String("signature", call.Signature()),
		zap.Int("count", count))

	msg := fmt.Sprintf("tool call %s repeated %d times with identical arguments", call.Name, count)
	return o.failWith(ctx, r, &Fault{
		Reason:  entity.TermToolCallLoop,
		Status:  500,
		Message: msg,
		Body: errorBody("tool_call_loop_detected", msg,
			"The model is stuck repeating one tool call. Rephrase the request or reduce the available tools."),
	})
}

// recordToolTurns appends the request/result turn pair to session history.
func (o *Orchestrator) recordToolTurns(r *runState, exec callExecution) {
	r.sess.Append(entity.Turn{
		Role:    entity.RoleAssistant,
		Type:    entity.TurnToolRequest,
		Content: entity.Preview(exec.call.Name + " " + argumentPreview(exec.call)),
		Metadata: map[string]any{
			"tool":    exec.call.Name,
			"call_id": exec.call.ID,
		},
	})

	status := "ok"
	if !exec.res.OK {
		status = "error"
	}
	meta := map[string]any{"tool": exec.call.Name}
	if exec.cached {
		meta["cached"] = true
	}
	if exec.denied {
		meta["denied"] = true
	}
	r.sess.Append(entity.Turn{
		Role:     entity.RoleTool,
		Type:     entity.TurnToolResult,
		Status:   status,
		Content:  entity.Preview(exec.res.Content),
		Metadata: meta,
	})
}

// assistantToolTurn renders the canonical assistant turn for the executed
// calls. Dedupe and synthesis can leave resp's own tool_use blocks out of
// step with the calls actually run, so the blocks are rebuilt from calls.
func assistantToolTurn(resp *entity.MessagesResponse, calls []entity.ToolCall) entity.Message {
	blocks := make(entity.BlockList, 0, len(resp.Content)+len(calls))
	for _, b := range resp.Content {
		if b.Type != entity.BlockToolUse {
			blocks = append(blocks, b)
		}
	}
	for _, c := range calls {
		blocks = append(blocks, c.ToolUseBlockOf())
	}
	return entity.Message{Role: entity.RoleAssistant, Content: blocks}
}

// foldedResultText renders a server-side result for a hybrid-mode body.
func foldedResultText(exec callExecution) string {
	return fmt.Sprintf("[%s result]\n%s", exec.call.Name, exec.res.Content)
}

// argumentPreview renders call arguments for logs and progress events.
func argumentPreview(call entity.ToolCall) string {
	if len(call.Arguments) == 0 {
		return call.Raw
	}
	b, err := json.Marshal(call.Arguments)
	if err != nil {
		return call.Raw
	}
	return string(b)
}
