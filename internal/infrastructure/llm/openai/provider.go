package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelgate/modelgate/internal/domain/entity"
	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func init() {
	llm.RegisterFactory("openai", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider speaks the chat-completions dialect. It is the default client
// for every OpenAI-compatible endpoint, hosted or self-hosted.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	models     []string
	customBase bool
	client     *http.Client
	logger     *zap.Logger

	// context windows from the endpoint's /models listing.
	windowMu      sync.RWMutex
	windows       map[string]int
	windowsLoaded bool
}

// New creates an OpenAI-compatible provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	custom := baseURL != ""
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Provider{
		name:       cfg.Name,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		customBase: custom,
		client:     llm.NewHTTPClient(),
		logger:     logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string     { return p.name }
func (p *Provider) Models() []string { return p.models }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// IsAvailable reports readiness. The hosted endpoint needs a key;
// self-hosted gateways (vLLM, LM Studio) run keyless behind a custom
// base URL.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != "" || p.customBase
}

// BuildRequest converts the canonical payload into chat-completions wire
// form. The Ollama client reuses this for its /v1 route.
func BuildRequest(req *entity.MessagesRequest) *Request {
	system, msgs := llm.PrepareMessages(req)

	out := &Request{
		Model:       llm.StripModelPrefix(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ToolChoice:  mapToolChoice(req.ToolChoice),
	}
	if system != "" {
		out.Messages = append(out.Messages, Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, convertMessage(m)...)
	}
	for _, td := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.EnsureObjectSchema(),
			},
		})
	}
	return out
}

// convertMessage splits one canonical message into its wire messages:
// tool_result blocks become role:"tool" messages in block order, text
// accumulates into a message of the original role, and assistant
// tool_use blocks ride along as tool_calls.
func convertMessage(m entity.Message) []Message {
	var out []Message

	current := Message{Role: m.Role}
	flush := func() {
		if current.Content != "" || len(current.ToolCalls) > 0 {
			out = append(out, current)
		}
		current = Message{Role: m.Role}
	}

	for _, b := range m.Content {
		switch b.Type {
		case entity.BlockText:
			if b.Text == "" {
				continue
			}
			if current.Content != "" {
				current.Content += "\n\n"
			}
			current.Content += b.Text
		case entity.BlockToolUse:
			current.ToolCalls = append(current.ToolCalls, ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      b.Name,
					Arguments: MarshalToolCallArgs(b.Input),
				},
			})
		case entity.BlockToolResult:
			flush()
			out = append(out, Message{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    b.Content,
			})
		}
	}
	flush()
	return out
}

// mapToolChoice translates the canonical tool_choice object into the wire
// encoding: auto/any/none map to strings, a named tool maps to the
// function selector.
func mapToolChoice(tc map[string]any) any {
	if len(tc) == 0 {
		return nil
	}
	typ, _ := tc["type"].(string)
	switch typ {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		if name, ok := tc["name"].(string); ok && name != "" {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
	}
	return nil
}

// Invoke performs one /chat/completions call and returns the raw envelope.
func (p *Provider) Invoke(ctx context.Context, req *entity.MessagesRequest, opts llm.InvokeOptions) (*llm.Response, error) {
	apiReq := BuildRequest(req)
	if opts.Stream {
		apiReq.Stream = true
		apiReq.StreamOptions = map[string]any{"include_usage": true}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewMalformed(p.name, 0, fmt.Errorf("marshal request: %w", err))
	}

	if !opts.Stream {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = llm.DefaultChatTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewUnreachable(p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if opts.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewUnreachable(p.name, err)
	}

	if opts.Stream && resp.StatusCode == http.StatusOK {
		return llm.WrapStreamResponse(p.name, resp), nil
	}
	return llm.WrapHTTPResponse(p.name, resp)
}
