package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/router"
	"github.com/modelgate/modelgate/internal/domain/service"
	"github.com/modelgate/modelgate/internal/infrastructure/cache"
	"github.com/modelgate/modelgate/internal/infrastructure/monitoring"
	"github.com/modelgate/modelgate/internal/infrastructure/persistence"
)

// LoopRunner is the agent loop as the use-case sees it.
type LoopRunner interface {
	Run(ctx context.Context, req *entity.MessagesRequest, sess *entity.Session, opts service.Options) *service.Result
}

// Deps are the collaborators for one ProcessMessage service.
type Deps struct {
	Orchestrator LoopRunner
	Router       func() *router.Router // current router; swapped on catalog reloads
	Sessions     *persistence.SessionStore
	PromptCache  *cache.PromptCache        // nil disables
	Semantic     *cache.SemanticCache      // nil disables
	Audit        *persistence.AuditLogger  // nil disables
	Monitor      *monitoring.Monitor
	Logger       *zap.Logger
}

// ProcessMessage executes one gateway request end to end: session
// resolution, mode detection, routing, cache consultation, the agent
// loop, and the bookkeeping around it.
type ProcessMessage struct {
	deps Deps
}

// NewProcessMessage wires the use-case.
func NewProcessMessage(deps Deps) *ProcessMessage {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitoring.NewMonitor(deps.Logger)
	}
	return &ProcessMessage{deps: deps}
}

// Command is one inbound request plus its transport-level context.
type Command struct {
	Req             *entity.MessagesRequest
	HeaderSessionID string // first session header present, empty if none
	RequestID       string
}

// Outcome is what the transport needs to answer: either a cache replay
// or a loop result, plus the routing decision for the response headers.
type Outcome struct {
	SessionID string
	Ephemeral bool
	Decision  entity.RoutingDecision
	CacheHit  string // "prompt", "semantic" or empty

	Replay map[string]any  // set on cache hit
	Result *service.Result // set otherwise
}

// Execute runs one request. It always returns an outcome; provider and
// loop failures surface inside Result, never as Go errors.
func (uc *ProcessMessage) Execute(ctx context.Context, cmd Command) *Outcome {
	start := time.Now()
	uc.deps.Monitor.IncRequestTotal()

	req := cmd.Req
	req.RequestMode = detectRequestMode(req)

	sessionID, ephemeral := uc.resolveSessionID(cmd)
	sess := uc.deps.Sessions.GetOrCreate(ctx, sessionID, ephemeral)
	uc.deps.Monitor.SetActiveSessions(int64(uc.deps.Sessions.ActiveCount()))

	decision := uc.deps.Router().DetermineProvider(req)
	conversational := decision.Method == "force_local" || req.Mode() == entity.ModeTopic

	uc.deps.Logger.Info("request routed",
		zap.String("request_id", cmd.RequestID),
		zap.String("session_id", sessionID),
		zap.String("provider", decision.Provider),
		zap.String("model", decision.Model),
		zap.String("method", decision.Method),
		zap.Int("score", decision.Score),
		zap.String("mode", req.Mode()))

	outcome := &Outcome{
		SessionID: sessionID,
		Ephemeral: ephemeral,
		Decision:  decision,
	}

	if replay, source := uc.lookupCaches(ctx, req); replay != nil {
		outcome.Replay = replay
		outcome.CacheHit = source
		uc.deps.Monitor.IncRequestSuccess()
		uc.deps.Monitor.RecordRequestLatency(time.Since(start))
		uc.audit(cmd, outcome, "completion", 0, 0, time.Since(start))
		return outcome
	}

	result := uc.deps.Orchestrator.Run(ctx, req, sess, service.Options{
		Provider:       decision.Provider,
		Model:          decision.Model,
		Routing:        &decision,
		Conversational: conversational,
	})
	outcome.Result = result

	uc.storeCaches(ctx, req, result)

	if result.Status < 400 {
		uc.deps.Monitor.IncRequestSuccess()
	} else {
		uc.deps.Monitor.IncRequestFailed()
	}
	uc.deps.Monitor.RecordRequestLatency(result.Duration)
	if result.Body != nil {
		uc.deps.Monitor.AddTokensUsed(result.Body.Usage.InputTokens + result.Body.Usage.OutputTokens)
	}

	uc.audit(cmd, outcome, result.TerminationReason, result.Steps, result.ToolCallsExecuted, result.Duration)
	return outcome
}

// resolveSessionID applies the documented precedence: correlation header,
// then the body fallbacks, then a server-minted ephemeral id.
func (uc *ProcessMessage) resolveSessionID(cmd Command) (string, bool) {
	if cmd.HeaderSessionID != "" {
		return cmd.HeaderSessionID, false
	}
	if id := cmd.Req.BodySessionID(); id != "" {
		return id, false
	}
	return uuid.NewString(), true
}

// lookupCaches consults the prompt cache first (exact shape), then the
// semantic cache (similar question). Streaming requests and side-channel
// modes never replay.
func (uc *ProcessMessage) lookupCaches(ctx context.Context, req *entity.MessagesRequest) (map[string]any, string) {
	if req.Stream || req.Mode() == entity.ModeSuggestion {
		return nil, ""
	}

	if uc.deps.PromptCache != nil {
		if body, ok := uc.deps.PromptCache.Get(cache.PromptKey(req, req.Mode())); ok {
			uc.deps.Monitor.IncPromptCacheHit()
			return body, "prompt"
		}
		uc.deps.Monitor.IncPromptCacheMiss()
	}

	if uc.deps.Semantic != nil && req.Mode() == entity.ModeMain && !req.HasTools() {
		if query := req.LastUserText(); query != "" {
			if body, ok := uc.deps.Semantic.Lookup(ctx, query); ok {
				uc.deps.Monitor.IncSemanticCacheHit()
				return body, "semantic"
			}
		}
	}

	return nil, ""
}

// storeCaches records a completed single-step answer: only a first model
// turn that finished without tools is a pure function of the request.
func (uc *ProcessMessage) storeCaches(ctx context.Context, req *entity.MessagesRequest, result *service.Result) {
	if req.Stream || result.Body == nil ||
		result.TerminationReason != entity.TermCompletion ||
		result.Steps != 1 || result.ToolCallsExecuted != 0 {
		return
	}

	body, err := bodyMap(result.Body)
	if err != nil {
		uc.deps.Logger.Warn("response not cacheable", zap.Error(err))
		return
	}

	if uc.deps.PromptCache != nil {
		uc.deps.PromptCache.Put(cache.PromptKey(req, req.Mode()), body)
	}
	if uc.deps.Semantic != nil && req.Mode() == entity.ModeMain && !req.HasTools() {
		if query := req.LastUserText(); query != "" {
			if err := uc.deps.Semantic.Store(ctx, query, body); err != nil {
				uc.deps.Logger.Warn("semantic store failed", zap.Error(err))
			}
		}
	}
}

func (uc *ProcessMessage) audit(cmd Command, outcome *Outcome, termination string, steps, toolCalls int, d time.Duration) {
	if uc.deps.Audit == nil {
		return
	}
	provider, model := outcome.Decision.Provider, outcome.Decision.Model
	if outcome.Result != nil {
		if outcome.Result.Provider != "" {
			provider = outcome.Result.Provider
		}
		if outcome.Result.Model != "" {
			model = outcome.Result.Model
		}
	}
	uc.deps.Audit.Record(persistence.AuditRecord{
		RequestID:         cmd.RequestID,
		SessionID:         outcome.SessionID,
		Provider:          provider,
		Model:             model,
		TerminationReason: termination,
		Steps:             steps,
		ToolCallsExecuted: toolCalls,
		DurationMs:        d.Milliseconds(),
	})
}

func bodyMap(resp *entity.MessagesResponse) (map[string]any, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// Side-channel prompts Claude-style clients run through the same endpoint.
// Conversation titling and topic-change probes are recognised by their
// system prompts; everything else is a main-mode turn.
var (
	topicMarkers = []string{
		"write a 5-10 word title",
		"generate a concise topic title",
	}
	suggestionMarkers = []string{
		"analyze if this message indicates a new conversation topic",
		"suggest a follow-up",
	}
)

func detectRequestMode(req *entity.MessagesRequest) string {
	if req.RequestMode != "" {
		return req.RequestMode
	}
	sys := strings.ToLower(req.System.String())
	if sys == "" {
		return entity.ModeMain
	}
	for _, m := range topicMarkers {
		if strings.Contains(sys, m) {
			return entity.ModeTopic
		}
	}
	for _, m := range suggestionMarkers {
		if strings.Contains(sys, m) {
			return entity.ModeSuggestion
		}
	}
	return entity.ModeMain
}
