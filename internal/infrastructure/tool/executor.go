package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

const (
	// DefaultOutputCap bounds the content fed back into the conversation
	// per tool call. Overridable per tool via SetOutputCap.
	DefaultOutputCap = 30000

	// rawArgumentKey carries argument text that could not be parsed as
	// JSON, so handlers (and the executor's retry) can still see it.
	rawArgumentKey = "_raw"

	// maxReparseDepth bounds recursive decoding of stringified JSON.
	maxReparseDepth = 3
)

// Executor resolves tool calls against the registry, enforces policy,
// parses whatever argument shape the provider delivered, and normalises
// handler outcomes into canonical tool results. It never returns an
// error: every failure folds into an is_error result so the loop can
// continue with the next call.
type Executor struct {
	registry   *domaintool.Registry
	policy     *domaintool.Policy
	logger     *zap.Logger
	outputCaps map[string]int
	defaultCap int
}

// NewExecutor builds an executor. policy may be nil to disable admission
// checks.
func NewExecutor(registry *domaintool.Registry, policy *domaintool.Policy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:   registry,
		policy:     policy,
		logger:     logger.Named("tool.executor"),
		outputCaps: make(map[string]int),
		defaultCap: DefaultOutputCap,
	}
}

// SetOutputCap overrides the output cap for one tool. A non-positive cap
// disables truncation for that tool.
func (e *Executor) SetOutputCap(name string, limit int) {
	e.outputCaps[e.registry.Canonical(name)] = limit
}

// KindOf reports the registered handler's kind, or the zero kind for
// names that do not resolve.
func (e *Executor) KindOf(name string) domaintool.Kind {
	if handler, ok := e.registry.Get(name); ok {
		return handler.Kind()
	}
	return ""
}

// Canonical resolves aliases and casing to the registered tool name.
func (e *Executor) Canonical(name string) string {
	return e.registry.Canonical(name)
}

// SetDefaultOutputCap overrides the cap applied to tools without their own.
func (e *Executor) SetDefaultOutputCap(limit int) {
	e.defaultCap = limit
}

// Execute runs one tool call end to end: policy, lookup, argument
// parsing, dispatch, normalisation, truncation.
func (e *Executor) Execute(ctx context.Context, call entity.ToolCall, toolCallsExecuted int) entity.ToolResult {
	if e.policy != nil {
		if decision := e.policy.Evaluate(call, toolCallsExecuted); !decision.Allowed {
			e.logger.Warn("tool call denied",
				zap.String("tool", call.Name),
				zap.String("code", decision.Code),
				zap.String("reason", decision.Reason))
			return decision.DenialResult(call)
		}
	}

	handler, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warn("tool not registered", zap.String("tool", call.Name))
		return entity.ToolResult{
			ID:     call.ID,
			Name:   call.Name,
			OK:     false,
			Status: 404,
			Content: fmt.Sprintf(`{"error":%q,"message":%q}`,
				domaintool.PolicyCodeUnregistered,
				fmt.Sprintf("tool %q is not registered", call.Name)),
		}
	}

	args := e.resolveArguments(call)

	e.logger.Debug("executing tool",
		zap.String("tool", handler.Name()),
		zap.String("call_id", call.ID))

	start := time.Now()
	res, err := e.dispatch(ctx, handler, args)
	duration := time.Since(start)

	result := e.normalise(call, handler.Name(), res, err)
	e.truncate(handler.Name(), &result)

	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["durationMs"] = duration.Milliseconds()

	if result.OK {
		e.logger.Info("tool executed",
			zap.String("tool", handler.Name()),
			zap.Duration("duration", duration),
			zap.Int("output_chars", len(result.Content)))
	} else {
		e.logger.Warn("tool failed",
			zap.String("tool", handler.Name()),
			zap.Duration("duration", duration),
			zap.Int("status", result.Status))
	}

	return result
}

// resolveArguments picks the best argument source on the call and gives
// unparseable text one more decode attempt.
func (e *Executor) resolveArguments(call entity.ToolCall) map[string]any {
	var args map[string]any
	switch {
	case len(call.Arguments) > 0:
		args = ParseArguments(call.Arguments)
	case strings.TrimSpace(call.Raw) != "":
		args = ParseArguments(call.Raw)
	default:
		args = map[string]any{}
	}

	// A lone _raw survivor may still be valid JSON the provider wrapped
	// one extra time.
	if len(args) == 1 {
		if s, ok := args[rawArgumentKey].(string); ok {
			if reparsed := parseArgString(s, 0); !isRawOnly(reparsed) {
				return reparsed
			}
		}
	}
	return args
}

// dispatch invokes the handler with panic containment.
func (e *Executor) dispatch(ctx context.Context, handler domaintool.Handler, args map[string]any) (res *domaintool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked",
				zap.String("tool", handler.Name()),
				zap.Any("panic", r))
			res = nil
			err = fmt.Errorf("tool %s panicked: %v", handler.Name(), r)
		}
	}()
	return handler.Execute(ctx, args)
}

// normalise maps a handler outcome onto the canonical result shape. A nil
// result with a nil error counts as an empty success.
func (e *Executor) normalise(call entity.ToolCall, name string, res *domaintool.Result, err error) entity.ToolResult {
	out := entity.ToolResult{ID: call.ID, Name: name}

	if err != nil {
		out.OK = false
		out.Status = 500
		out.Content = "Error: " + err.Error()
		return out
	}
	if res == nil {
		out.OK = true
		return out
	}

	out.OK = res.Success
	out.Content = res.Output
	if res.Metadata != nil {
		out.Metadata = make(map[string]any, len(res.Metadata))
		for k, v := range res.Metadata {
			out.Metadata[k] = v
		}
	}
	if res.Display != "" && res.Display != res.Output {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		out.Metadata["display"] = res.Display
	}
	if !res.Success {
		out.Status = 500
		if out.Content == "" && res.Error != "" {
			out.Content = "Error: " + res.Error
		}
	}
	return out
}

// truncate caps result content per tool and records what was cut.
func (e *Executor) truncate(name string, result *entity.ToolResult) {
	limit, ok := e.outputCaps[name]
	if !ok {
		limit = e.defaultCap
	}
	if limit <= 0 || len(result.Content) <= limit {
		return
	}

	original := len(result.Content)
	result.Content = result.Content[:limit] + "\n... [output truncated]"
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["truncated"] = true
	result.Metadata["originalLength"] = original
	result.Metadata["truncatedLength"] = limit
}

// ParseArguments normalises any argument shape a provider can deliver:
// already-parsed objects, JSON-encoded strings, and doubly-stringified
// nested JSON. Text that defies decoding lands under the _raw key rather
// than being lost.
func ParseArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return reparseStringLeaves(v, 0)
	case json.RawMessage:
		return parseArgString(string(v), 0)
	case []byte:
		return parseArgString(string(v), 0)
	case string:
		return parseArgString(v, 0)
	default:
		return map[string]any{rawArgumentKey: fmt.Sprintf("%v", raw)}
	}
}

func parseArgString(s string, depth int) map[string]any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}
	}
	if depth >= maxReparseDepth {
		return map[string]any{rawArgumentKey: s}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
		return reparseStringLeaves(m, depth+1)
	}

	// Doubly-stringified: a JSON string whose payload is itself JSON.
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		return parseArgString(inner, depth+1)
	}

	return map[string]any{rawArgumentKey: s}
}

// reparseStringLeaves decodes string values that are themselves complete
// JSON objects or arrays. It returns a fresh map; the input is shared
// with the session history and must not be mutated.
func reparseStringLeaves(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
		if depth >= maxReparseDepth {
			continue
		}
		s, ok := v.(string)
		if !ok || !looksLikeJSON(s) {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &decoded); err != nil {
			continue
		}
		if child, ok := decoded.(map[string]any); ok {
			out[k] = reparseStringLeaves(child, depth+1)
		} else {
			out[k] = decoded
		}
	}
	return out
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	return (strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")) ||
		(strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"))
}

func isRawOnly(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	_, ok := m[rawArgumentKey]
	return ok
}
