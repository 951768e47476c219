package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/contextshape"
	"github.com/modelgate/modelgate/internal/domain/entity"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

// Recovery caps, fixed per request.
const (
	maxInvokeTextRetries = 3
	maxAutoSpawns        = 2
	maxClassifierCalls   = 2
)

// Default limits when neither config nor request override them.
const (
	defaultMaxSteps     = 6
	defaultMaxDuration  = 120 * time.Second
	defaultMaxToolCalls = 12
	defaultLoopGuard    = 3
)

// Fault is a reified provider failure. The loop never sees provider errors
// as Go errors; they arrive as faults with the termination reason and HTTP
// status already decided.
type Fault struct {
	Reason  string         // termination reason
	Status  int            // HTTP status to surface
	Message string
	Body    map[string]any // upstream error body, when one exists
}

// ModelReply is one provider invocation's outcome: exactly one of Response,
// Stream or Fault is meaningful.
type ModelReply struct {
	Status    int
	Response  *entity.MessagesResponse
	ToolCalls []entity.ToolCall
	Stream    io.ReadCloser
	Fault     *Fault
	Provider  string // provider that actually answered, after failover
}

// ModelInvoker performs one provider call: transport, failover,
// normalisation and tool-call extraction all happen behind it.
type ModelInvoker interface {
	Invoke(ctx context.Context, provider string, req *entity.MessagesRequest) *ModelReply
}

// ToolExecutor runs one tool call under policy. It never returns an error;
// denials and failures come back as error-flagged results.
type ToolExecutor interface {
	Execute(ctx context.Context, call entity.ToolCall, toolCallsExecuted int) entity.ToolResult
	KindOf(name string) domaintool.Kind
	Canonical(name string) string
}

// Emitter publishes progress events. Delivery is fire-and-forget.
type Emitter interface {
	Publish(ctx context.Context, evt *entity.ProgressEvent)
}

// SubagentRunner spawns a nested agent run for intent-narration recovery
// and the Task tool.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, agentType, task string) (string, error)
}

// Deps are the orchestrator's collaborators, wired once at construction.
type Deps struct {
	Invoker   ModelInvoker
	Shaper    *contextshape.Shaper
	Tools     ToolExecutor
	Policy    *domaintool.Policy
	Subagents SubagentRunner
	Events    Emitter
	Shutdown  func() bool
	Logger    *zap.Logger
}

// Limits bound one run.
type Limits struct {
	MaxSteps     int
	MaxDuration  time.Duration
	MaxToolCalls int
}

func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = defaultMaxSteps
	}
	if l.MaxDuration <= 0 {
		l.MaxDuration = defaultMaxDuration
	}
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = defaultMaxToolCalls
	}
	return l
}

// Config is the orchestrator's static configuration.
type Config struct {
	Limits            Limits
	ToolLoopThreshold int

	// Dedicated tool-execution provider. Empty means the conversation
	// provider handles tool turns itself.
	ToolProvider      string
	ToolModel         string
	ToolExecutionMode string // server | client | passthrough
	CompareMode       bool

	// ToolInjection reports whether the upstream request pipeline injects
	// a tool set for the given provider. The hallucination guard needs to
	// know; extracted calls with no tools anywhere are parser noise.
	ToolInjection func(provider string) bool

	ResultCacheTTL time.Duration
}

// Options carry per-request routing decisions and limit overrides.
type Options struct {
	Provider string
	Model    string
	Routing  *entity.RoutingDecision
	AgentID  string

	// Conversational marks a trivial conversational turn. It outranks the
	// dedicated tool-execution provider: the conversation provider keeps
	// the whole run.
	Conversational bool

	MaxSteps     int
	MaxDuration  time.Duration
	MaxToolCalls int
}

// Result is one completed run. Exactly one of Body, ErrorBody or Stream is
// set.
type Result struct {
	Status            int
	Body              *entity.MessagesResponse
	ErrorBody         map[string]any
	Stream            io.ReadCloser
	TerminationReason string
	Steps             int
	ToolCallsExecuted int
	Routing           *entity.RoutingDecision
	Comparison        *ToolCallComparison
	Warning           string // X-Agent-Loop-Warning header value
	Provider          string
	Model             string
	Duration          time.Duration
}

// Orchestrator drives the agent loop: provider calls alternating with tool
// executions until the model produces a final text answer or a limit fires.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// NewOrchestrator wires an orchestrator. Zero-value limits fall back to
// the defaults.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.Limits = cfg.Limits.withDefaults()
	if cfg.ToolLoopThreshold <= 0 {
		cfg.ToolLoopThreshold = defaultLoopGuard
	}
	if cfg.ToolExecutionMode == "" {
		cfg.ToolExecutionMode = domaintool.ExecModeServer
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// runState is the per-run variable block.
type runState struct {
	req  *entity.MessagesRequest
	sess *entity.Session
	opts Options

	limits   Limits
	sm       *StateMachine
	detector *LoopDetector
	cache    *ToolResultCache

	provider string // conversation provider
	model    string

	step                 int
	toolCallsExecuted    int
	preloopToolResults   int
	assistantTexts       []string
	originalTools        []entity.Tool
	fallbackPerformed    bool
	pendingWebFold       bool
	emptyResponseRetried bool
	invokeTextRetries    int
	autoSpawnAttempts    int
	classifierRetries    int
	start                time.Time

	lastProvider string
	comparison   *ToolCallComparison
}

func (o *Orchestrator) effectiveLimits(req *entity.MessagesRequest, opts Options) Limits {
	l := o.cfg.Limits
	if req.MaxSteps > 0 {
		l.MaxSteps = req.MaxSteps
	}
	if req.MaxDurationMs > 0 {
		l.MaxDuration = time.Duration(req.MaxDurationMs) * time.Millisecond
	}
	if opts.MaxSteps > 0 {
		l.MaxSteps = opts.MaxSteps
	}
	if opts.MaxDuration > 0 {
		l.MaxDuration = opts.MaxDuration
	}
	if opts.MaxToolCalls > 0 {
		l.MaxToolCalls = opts.MaxToolCalls
	}
	return l
}

// Run executes the loop for one request. It owns the session for the whole
// run; concurrent requests on the same session serialise here.
func (o *Orchestrator) Run(ctx context.Context, req *entity.MessagesRequest, sess *entity.Session, opts Options) *Result {
	r := &runState{
		req:      req,
		sess:     sess,
		opts:     opts,
		limits:   o.effectiveLimits(req, opts),
		sm:       NewStateMachine(o.deps.Logger),
		detector: NewLoopDetector(),
		cache:    NewToolResultCache(o.cfg.ResultCacheTTL, 0),
		provider: opts.Provider,
		model:    opts.Model,
		start:    time.Now(),
	}
	if r.model == "" {
		r.model = req.Model
	}
	r.lastProvider = r.provider

	// Suggestion-mode requests are UI noise; answer before touching the
	// session or any provider.
	if req.Mode() == entity.ModeSuggestion {
		_ = r.sm.Transition(StateComplete)
		return o.resultFor(r, entity.NewTextResponse(r.model, ""), entity.TermSuggestionModeSkip, 200)
	}

	sess.Lock()
	defer sess.Unlock()

	o.emit(ctx, r, entity.ProgressLoopStarted, nil)

	if lut := req.LastUserText(); lut != "" {
		sess.Append(entity.Turn{Role: entity.RoleUser, Type: entity.TurnMessage, Content: lut})
	}

	// Pre-loop guard on the original payload. Shaping merges history and
	// would hide a runaway tool chain.
	r.preloopToolResults = CountTrailingToolResults(req.Messages)
	if r.preloopToolResults >= o.cfg.ToolLoopThreshold {
		o.deps.Logger.Warn("tool loop guard tripped",
			zap.String("session_id", sess.ID),
			zap.Int("tool_results", r.preloopToolResults),
			zap.Int("threshold", o.cfg.ToolLoopThreshold))
		body := entity.NewTextResponse(r.model, GuardSummary(req.Messages))
		_ = r.sm.Transition(StateComplete)
		return o.finish(ctx, r, body, entity.TermToolLoopGuard, 200)
	}

	CleanInterruptedInput(sess, req.Messages)

	var repairs PayloadRepairs
	req.Messages, repairs = RepairPayload(req.Messages)
	if repairs.Any() {
		o.deps.Logger.Debug("payload repaired",
			zap.String("session_id", sess.ID),
			zap.Int("inserted", repairs.Inserted),
			zap.Int("stripped", repairs.Stripped))
	}

	r.originalTools = append([]entity.Tool(nil), req.Tools...)
	_ = r.sm.Transition(StateShaping)

	return o.runLoop(ctx, r)
}

// runLoop is the per-step procedure.
func (o *Orchestrator) runLoop(ctx context.Context, r *runState) *Result {
	req := r.req

	for {
		if time.Since(r.start) > r.limits.MaxDuration {
			return o.limitExceeded(ctx, r, entity.TermMaxSteps, 504,
				fmt.Sprintf("run exceeded maxDurationMs (%d ms)", r.limits.MaxDuration.Milliseconds()),
				"Raise POLICY_MAX_DURATION_MS to allow longer runs.")
		}
		if o.deps.Shutdown != nil && o.deps.Shutdown() {
			return o.failWith(ctx, r, &Fault{
				Reason:  entity.TermShutdown,
				Status:  503,
				Message: "gateway is shutting down",
			})
		}

		r.step++
		if r.step > r.limits.MaxSteps {
			return o.limitExceeded(ctx, r, entity.TermMaxSteps, 500,
				fmt.Sprintf("run exceeded maxSteps (%d)", r.limits.MaxSteps),
				"Raise POLICY_MAX_STEPS to allow more steps.")
		}
		r.sm.SetStep(r.step)
		o.emit(ctx, r, entity.ProgressStepStarted, nil)

		if r.step == 1 && o.deps.Shaper != nil {
			report := o.deps.Shaper.Shape(ctx, req, r.provider)
			if report != nil && (report.CompressedHistory || report.MemoriesInjected > 0) {
				o.deps.Logger.Debug("context shaped",
					zap.Int("messages_before", report.MessagesBefore),
					zap.Int("messages_after", report.MessagesAfter),
					zap.Int("memories", report.MemoriesInjected))
			}
		}

		_ = r.sm.Transition(StateInvoking)
		reply := o.invokeStep(ctx, r)

		if reply.Stream != nil {
			_ = r.sm.Transition(StateComplete)
			return o.streamResult(ctx, r, reply)
		}
		if reply.Fault != nil {
			return o.failWith(ctx, r, reply.Fault)
		}
		if reply.Provider != "" {
			r.lastProvider = reply.Provider
		}

		resp := reply.Response
		r.sm.AddTokens(resp.Usage.Total())
		r.sm.SetModel(resp.Model)
		_ = r.sm.Transition(StateClassifying)

		calls := dedupeAdjacentCalls(reply.ToolCalls)

		// Hallucination guard: calls extracted although no tools exist
		// anywhere in the pipeline are parser noise.
		if len(calls) > 0 && len(req.Tools) == 0 && !o.toolsInjected(r) {
			o.deps.Logger.Warn("dropping hallucinated tool calls",
				zap.Int("count", len(calls)),
				zap.String("model", resp.Model))
			stripToolUses(resp)
			calls = nil
		}

		if text := resp.Text(); strings.TrimSpace(text) != "" {
			r.assistantTexts = append(r.assistantTexts, text)
		}

		// Empty-response recovery.
		if len(calls) == 0 && !resp.HasText() {
			if !r.emptyResponseRetried && r.step < r.limits.MaxSteps {
				r.emptyResponseRetried = true
				_ = r.sm.Transition(StateRecovering)
				req.Messages = append(req.Messages,
					entity.Message{Role: entity.RoleAssistant, Content: entity.BlockList{entity.TextBlock("")}},
					entity.NewTextMessage(entity.RoleUser, emptyResponseNudge))
				_ = r.sm.Transition(StateInvoking)
				continue
			}
			body := entity.NewTextResponse(r.model, cannedEmptyResponse)
			_ = r.sm.Transition(StateComplete)
			return o.finish(ctx, r, body, entity.TermEmptyResponse, 200)
		}

		// Narrated-but-not-called recovery.
		if len(calls) == 0 && resp.HasText() && r.toolsWereAvailable() {
			action, synthetic := o.recoverNoCalls(ctx, r, resp.Text())
			switch action {
			case recoveryRetry:
				continue
			case recoverySynthetic:
				req.LetMeSynthetic = true
				calls = []entity.ToolCall{*synthetic}
			}
		}

		// Final text answer.
		if len(calls) == 0 {
			if out := o.maybeWebFallback(ctx, r, resp); out != nil {
				resp = out
			} else if r.pendingWebFold {
				continue
			}
			_ = r.sm.Transition(StateComplete)
			return o.finish(ctx, r, resp, entity.TermCompletion, 200)
		}

		// Tool execution.
		_ = r.sm.Transition(StateExecuting)
		outcome := o.executeCalls(ctx, r, resp, calls)
		if outcome.result != nil {
			return outcome.result
		}
		_ = r.sm.Transition(StateInvoking)
	}
}

// toolsWereAvailable reports whether this request ever had tools to call.
func (r *runState) toolsWereAvailable() bool {
	return len(r.req.Tools) > 0 || len(r.originalTools) > 0
}

// restoreTools puts the original tool set back after stripping.
func (r *runState) restoreTools() {
	if len(r.req.Tools) == 0 && len(r.originalTools) > 0 {
		r.req.Tools = append([]entity.Tool(nil), r.originalTools...)
	}
}

func (o *Orchestrator) toolsInjected(r *runState) bool {
	if r.req.NoToolInjection {
		return false
	}
	return o.cfg.ToolInjection != nil && o.cfg.ToolInjection(r.provider)
}

type recoveryAction int

const (
	recoveryProceed recoveryAction = iota
	recoveryRetry
	recoverySynthetic
)

// recoverNoCalls handles assistant text that should have been tool calls.
// Narrations of the "Invoking tool(s): X" form get a subagent or a nudge;
// first-person action narrations get a classifier check and, failing that,
// synthetic call generation.
func (o *Orchestrator) recoverNoCalls(ctx context.Context, r *runState, text string) (recoveryAction, *entity.ToolCall) {
	if names := NarratedToolNames(text); len(names) > 0 {
		_ = r.sm.Transition(StateRecovering)
		if o.trySubagent(ctx, r, names, text) {
			_ = r.sm.Transition(StateInvoking)
			return recoveryRetry, nil
		}
		if r.invokeTextRetries < maxInvokeTextRetries {
			r.invokeTextRetries++
			r.nudge(text, invokeTextNudge)
			_ = r.sm.Transition(StateInvoking)
			return recoveryRetry, nil
		}
		_ = r.sm.Transition(StateInvoking)
		return recoveryProceed, nil
	}

	if !MatchesActionNarration(text) {
		return recoveryProceed, nil
	}
	_ = r.sm.Transition(StateRecovering)

	switch o.classifyIntent(ctx, r, text) {
	case classifierYes:
		r.restoreTools()
		if r.invokeTextRetries < maxInvokeTextRetries {
			r.invokeTextRetries++
			r.nudge(text, invokeTextNudge)
		}
		_ = r.sm.Transition(StateInvoking)
		return recoveryRetry, nil
	case classifierNone:
		if call := SynthesiseToolCall(text); call != nil {
			o.deps.Logger.Info("synthesised tool call from narration",
				zap.String("tool", call.Name))
			_ = r.sm.Transition(StateExecuting)
			return recoverySynthetic, call
		}
		if r.invokeTextRetries < maxInvokeTextRetries {
			r.invokeTextRetries++
			r.nudge(text, invokeTextNudge)
			_ = r.sm.Transition(StateInvoking)
			return recoveryRetry, nil
		}
	}
	_ = r.sm.Transition(StateInvoking)
	return recoveryProceed, nil
}

// nudge appends the assistant's narration and a corrective user message,
// restoring the tool set if an earlier pass stripped it.
func (r *runState) nudge(assistantText, nudgeText string) {
	r.restoreTools()
	r.req.Messages = append(r.req.Messages,
		entity.NewTextMessage(entity.RoleAssistant, assistantText),
		entity.NewTextMessage(entity.RoleUser, nudgeText))
	r.req.InvokeTextRetry = r.invokeTextRetries
}

// trySubagent spawns an agent to do what the model only narrated.
func (o *Orchestrator) trySubagent(ctx context.Context, r *runState, names []string, text string) bool {
	if o.deps.Subagents == nil || r.autoSpawnAttempts >= maxAutoSpawns {
		return false
	}
	r.autoSpawnAttempts++
	agentType := AgentTypeFor(names)
	task := BuildSubagentTask(r.req.LastUserText(), names)

	out, err := o.deps.Subagents.RunSubagent(ctx, agentType, task)
	if err != nil {
		o.deps.Logger.Warn("auto subagent failed",
			zap.String("agent_type", agentType),
			zap.Error(err))
		return false
	}

	fold := subagentResultMessage(agentType, out)
	r.req.Messages = append(r.req.Messages,
		entity.NewTextMessage(entity.RoleAssistant, text),
		entity.NewTextMessage(entity.RoleUser, fold))
	r.sess.Append(entity.Turn{
		Role:    entity.RoleUser,
		Type:    entity.TurnMessage,
		Content: entity.Preview(fold),
		Metadata: map[string]any{
			"subagent": agentType,
		},
	})
	return true
}

type classifierVerdict int

const (
	classifierNo classifierVerdict = iota
	classifierYes
	classifierNone
)

// classifyIntent asks the same model whether its text was unacted tool
// intent. Exhausted caps read as NO so the text stands as the answer.
func (o *Orchestrator) classifyIntent(ctx context.Context, r *runState, text string) classifierVerdict {
	if o.deps.Invoker == nil || r.classifierRetries >= maxClassifierCalls {
		return classifierNo
	}
	r.classifierRetries++

	reply := o.deps.Invoker.Invoke(ctx, r.provider, ClassifierRequest(r.model, text))
	if reply == nil || reply.Fault != nil || reply.Response == nil {
		return classifierNone
	}
	if ClassifierSaysYes(reply.Response) {
		return classifierYes
	}
	return classifierNo
}

// invokeStep performs the provider call(s) for one step, including the
// dedicated tool-provider routing and compare mode.
func (o *Orchestrator) invokeStep(ctx context.Context, r *runState) *ModelReply {
	req := r.req

	if o.shouldUseToolProvider(r) {
		toolReq := o.toolProviderRequest(r)
		if o.cfg.CompareMode {
			toolReply := o.invokeProvider(ctx, r, o.cfg.ToolProvider, toolReq)
			convReply := o.invokeProvider(ctx, r, r.provider, req)
			return o.pickCompared(r, convReply, toolReply)
		}
		reply := o.invokeProvider(ctx, r, o.cfg.ToolProvider, toolReq)
		if reply.Fault == nil {
			return reply
		}
		o.deps.Logger.Warn("tool provider failed, falling back to conversation provider",
			zap.String("tool_provider", o.cfg.ToolProvider),
			zap.String("reason", reply.Fault.Reason))
		return o.invokeProvider(ctx, r, r.provider, req)
	}

	// Normal conversation turn. When a tool provider owns tool decisions,
	// the conversation provider answers tool-result turns without tools.
	if o.cfg.ToolProvider != "" && len(req.Tools) > 0 && lastTurnHasToolResults(req) {
		stripped := *req
		stripped.Tools = nil
		return o.invokeProvider(ctx, r, r.provider, &stripped)
	}
	return o.invokeProvider(ctx, r, r.provider, req)
}

func (o *Orchestrator) shouldUseToolProvider(r *runState) bool {
	if o.cfg.ToolProvider == "" || !r.req.HasTools() {
		return false
	}
	if r.opts.Conversational {
		return false
	}
	if lastTurnHasToolResults(r.req) {
		return false
	}
	return o.cfg.ToolProvider != r.provider || (o.cfg.ToolModel != "" && o.cfg.ToolModel != r.model)
}

func lastTurnHasToolResults(req *entity.MessagesRequest) bool {
	last := req.LastMessage()
	return last.Role == entity.RoleTool || len(last.ToolResults()) > 0
}

// toolProviderRequest clones the request for the dedicated tool provider.
func (o *Orchestrator) toolProviderRequest(r *runState) *entity.MessagesRequest {
	clone := *r.req
	if o.cfg.ToolModel != "" {
		clone.Model = o.cfg.ToolModel
	}
	clone.RequestMode = entity.ModeToolExecution
	return &clone
}

func (o *Orchestrator) invokeProvider(ctx context.Context, r *runState, provider string, req *entity.MessagesRequest) *ModelReply {
	o.emit(ctx, r, entity.ProgressModelStarted, func(e *entity.ProgressEvent) {
		e.Provider = provider
		e.Model = req.Model
	})
	t0 := time.Now()

	reply := o.deps.Invoker.Invoke(ctx, provider, req)
	if reply == nil {
		reply = &ModelReply{Fault: &Fault{
			Reason:  entity.TermAPIError,
			Status:  502,
			Message: "provider returned no reply",
		}}
	}

	o.emit(ctx, r, entity.ProgressModelCompleted, func(e *entity.ProgressEvent) {
		e.Provider = provider
		e.Model = req.Model
		e.DurationMs = time.Since(t0).Milliseconds()
		if reply.Fault != nil {
			e.Error = reply.Fault.Message
		}
	})
	return reply
}

// pickCompared scores both proposals and returns the winner's reply.
func (o *Orchestrator) pickCompared(r *runState, convReply, toolReply *ModelReply) *ModelReply {
	switch {
	case convReply.Fault != nil && toolReply.Fault != nil:
		return toolReply
	case toolReply.Fault != nil:
		r.comparison = &ToolCallComparison{
			ConversationScore: ScoreToolCalls(convReply.ToolCalls),
			SelectedProvider:  comparisonConversation,
		}
		return convReply
	case convReply.Fault != nil:
		r.comparison = &ToolCallComparison{
			ToolExecutionScore: ScoreToolCalls(toolReply.ToolCalls),
			SelectedProvider:   comparisonToolExecution,
		}
		return toolReply
	}

	r.comparison = CompareToolCalls(convReply.ToolCalls, toolReply.ToolCalls)
	o.deps.Logger.Info("tool call comparison",
		zap.Int("conversation_score", r.comparison.ConversationScore),
		zap.Int("tool_execution_score", r.comparison.ToolExecutionScore),
		zap.String("selected", r.comparison.SelectedProvider))
	if r.comparison.SelectedProvider == comparisonToolExecution {
		return toolReply
	}
	return convReply
}

// maybeWebFallback runs one fetch when the model declined for staleness.
// Returns the (possibly annotated) terminal response, or nil with
// r.pendingWebFold set when the fetched result was folded back for
// another turn.
func (o *Orchestrator) maybeWebFallback(ctx context.Context, r *runState, resp *entity.MessagesResponse) *entity.MessagesResponse {
	r.pendingWebFold = false
	if r.fallbackPerformed || o.deps.Tools == nil || !NeedsWebFallback(resp.Text()) {
		return resp
	}
	target := CandidateURL(r.req.Messages, r.req.LastUserText())
	if target == "" {
		return resp
	}
	r.fallbackPerformed = true

	call := WebFallbackCall(target)
	o.deps.Logger.Info("web fallback fetch", zap.String("url", target))
	res := o.deps.Tools.Execute(ctx, *call, r.toolCallsExecuted)

	if !res.OK {
		resp.AppendText(webFallbackNote(target, res))
		return resp
	}

	r.toolCallsExecuted++
	r.sm.RecordToolExec(call.Name)
	r.req.Messages = append(r.req.Messages,
		entity.Message{Role: entity.RoleAssistant, Content: entity.BlockList{
			entity.TextBlock(resp.Text()),
			call.ToolUseBlockOf(),
		}},
		entity.Message{Role: entity.RoleUser, Content: entity.BlockList{res.ResultBlock()}},
	)
	r.pendingWebFold = true
	return nil
}

// ---- terminal construction ----

// finish builds a 200 terminal result: sanitise, record the turn, append
// limit-proximity warnings. Cache stores happen a layer up.
func (o *Orchestrator) finish(ctx context.Context, r *runState, body *entity.MessagesResponse, reason string, status int) *Result {
	if o.deps.Policy != nil && body != nil {
		body.Content = o.deps.Policy.SanitiseContent(body.Content)
	}

	// Fall back to collected intermediate text rather than an empty body.
	if body != nil && !body.HasText() && len(body.ToolUses()) == 0 && len(r.assistantTexts) > 0 {
		body.AppendText(r.assistantTexts[len(r.assistantTexts)-1])
	}

	warning := r.limitWarning()
	if warning != "" && body != nil {
		body.AppendText("\n\nNote: this request used " + warning + ". Responses may be truncated; the corresponding POLICY_* limits can be raised.")
	}

	if body != nil {
		r.sess.Append(entity.Turn{
			Role:    entity.RoleAssistant,
			Type:    entity.TurnMessage,
			Content: body.Text(),
			Metadata: map[string]any{
				"termination": reason,
				"steps":       r.step,
			},
		})
	}
	r.sess.PendingUserInput = ""

	o.emit(ctx, r, entity.ProgressLoopCompleted, func(e *entity.ProgressEvent) {
		e.TerminationReason = reason
	})
	res := o.resultFor(r, body, reason, status)
	res.Warning = warning
	return res
}

// failWith builds a terminal error result from a fault.
func (o *Orchestrator) failWith(ctx context.Context, r *runState, f *Fault) *Result {
	_ = r.sm.Transition(StateFailed)

	body := f.Body
	if body == nil {
		body = errorBody(f.Reason, f.Message, "")
	}
	r.sess.Append(entity.Turn{
		Role:    entity.RoleAssistant,
		Type:    entity.TurnError,
		Status:  f.Reason,
		Content: entity.Preview(f.Message),
	})
	r.sess.PendingUserInput = ""

	o.emit(ctx, r, entity.ProgressError, func(e *entity.ProgressEvent) {
		e.TerminationReason = f.Reason
		e.Error = f.Message
	})
	o.emit(ctx, r, entity.ProgressLoopCompleted, func(e *entity.ProgressEvent) {
		e.TerminationReason = f.Reason
	})

	res := o.resultFor(r, nil, f.Reason, f.Status)
	res.ErrorBody = body
	return res
}

// limitExceeded is failWith plus the actionable hint naming the limit.
func (o *Orchestrator) limitExceeded(ctx context.Context, r *runState, reason string, status int, message, hint string) *Result {
	_ = r.sm.Transition(StateFailed)

	r.sess.Append(entity.Turn{
		Role:    entity.RoleAssistant,
		Type:    entity.TurnError,
		Status:  reason,
		Content: message,
	})
	r.sess.PendingUserInput = ""

	o.emit(ctx, r, entity.ProgressError, func(e *entity.ProgressEvent) {
		e.TerminationReason = reason
		e.Error = message
	})
	o.emit(ctx, r, entity.ProgressLoopCompleted, func(e *entity.ProgressEvent) {
		e.TerminationReason = reason
	})

	res := o.resultFor(r, nil, reason, status)
	res.ErrorBody = errorBody(reason, message, hint)
	res.Warning = message
	return res
}

// streamResult passes a provider stream through untouched.
func (o *Orchestrator) streamResult(ctx context.Context, r *runState, reply *ModelReply) *Result {
	r.sess.Append(entity.Turn{
		Role:    entity.RoleAssistant,
		Type:    entity.TurnMessage,
		Content: "[streaming response]",
	})
	r.sess.PendingUserInput = ""

	o.emit(ctx, r, entity.ProgressLoopCompleted, func(e *entity.ProgressEvent) {
		e.TerminationReason = entity.TermStreaming
	})

	status := reply.Status
	if status == 0 {
		status = 200
	}
	res := o.resultFor(r, nil, entity.TermStreaming, status)
	res.Stream = reply.Stream
	return res
}

func (o *Orchestrator) resultFor(r *runState, body *entity.MessagesResponse, reason string, status int) *Result {
	return &Result{
		Status:            status,
		Body:              body,
		TerminationReason: reason,
		Steps:             r.step,
		ToolCallsExecuted: r.toolCallsExecuted,
		Routing:           r.opts.Routing,
		Comparison:        r.comparison,
		Provider:          r.lastProvider,
		Model:             r.model,
		Duration:          time.Since(r.start),
	}
}

// limitWarning lists limits at or past 90% utilisation.
func (r *runState) limitWarning() string {
	var notes []string
	if r.limits.MaxSteps > 0 && r.step*10 >= r.limits.MaxSteps*9 {
		notes = append(notes, fmt.Sprintf("%d of %d steps", r.step, r.limits.MaxSteps))
	}
	if r.limits.MaxToolCalls > 0 && r.toolCallsExecuted*10 >= r.limits.MaxToolCalls*9 {
		notes = append(notes, fmt.Sprintf("%d of %d tool calls", r.toolCallsExecuted, r.limits.MaxToolCalls))
	}
	if r.limits.MaxDuration > 0 && time.Since(r.start)*10 >= r.limits.MaxDuration*9 {
		notes = append(notes, fmt.Sprintf("%.0f of %.0f seconds", time.Since(r.start).Seconds(), r.limits.MaxDuration.Seconds()))
	}
	return strings.Join(notes, ", ")
}

func (o *Orchestrator) emit(ctx context.Context, r *runState, typ entity.ProgressEventType, fill func(*entity.ProgressEvent)) {
	if o.deps.Events == nil {
		return
	}
	evt := &entity.ProgressEvent{
		Type:      typ,
		SessionID: r.sess.ID,
		AgentID:   r.opts.AgentID,
		Step:      r.step,
		Timestamp: time.Now(),
		Provider:  r.lastProvider,
		Model:     r.model,
	}
	if fill != nil {
		fill(evt)
	}
	o.deps.Events.Publish(ctx, evt)
}

// errorBody renders the canonical error envelope.
func errorBody(errType, message, hint string) map[string]any {
	e := map[string]any{"type": errType, "message": message}
	if hint != "" {
		e["hint"] = hint
	}
	return map[string]any{"type": "error", "error": e}
}

// stripToolUses removes tool_use blocks after the hallucination guard
// dropped the calls, restoring end_turn when nothing remains to execute.
func stripToolUses(resp *entity.MessagesResponse) {
	kept := resp.Content[:0]
	for _, b := range resp.Content {
		if b.Type != entity.BlockToolUse {
			kept = append(kept, b)
		}
	}
	resp.Content = kept
	if resp.StopReason == entity.StopToolUse {
		resp.StopReason = entity.StopEndTurn
	}
}

// dedupeAdjacentCalls collapses back-to-back identical calls in a single
// response, keeping the first.
func dedupeAdjacentCalls(calls []entity.ToolCall) []entity.ToolCall {
	if len(calls) < 2 {
		return calls
	}
	out := calls[:1]
	for _, c := range calls[1:] {
		if c.Signature() == out[len(out)-1].Signature() {
			continue
		}
		out = append(out, c)
	}
	return out
}
