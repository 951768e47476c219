package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/entity"
	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const (
	anthropicVersion = "2023-06-01"
	// Anthropic requires explicit max_tokens on every request.
	defaultMaxTokens = 8192
)

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider speaks the Anthropic Messages dialect. It also serves any
// Anthropic-compatible hosted endpoint via BaseURL.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	models     []string
	customBase bool
	client     *http.Client
	logger     *zap.Logger
}

// New creates an Anthropic Messages provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	custom := baseURL != ""
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Provider{
		name:       cfg.Name,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		customBase: custom,
		client:     llm.NewHTTPClient(),
		logger:     logger.With(zap.String("provider", cfg.Name), zap.String("type", "anthropic")),
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
// compatible self-hosted endpoints run keyless behind a custom base URL.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != "" || p.customBase
}

// BuildRequest converts the canonical payload into the wire form. The
// Ollama client reuses this for its Anthropic-compatible route.
func BuildRequest(req *entity.MessagesRequest) *Request {
	system, msgs := llm.PrepareMessages(req)

	out := &Request{
		Model:       llm.StripModelPrefix(req.Model),
		MaxTokens:   req.MaxTokens,
		Messages:    msgs,
		System:      system,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	for _, td := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.EnsureObjectSchema(),
		})
	}
	return out
}

// Invoke performs one /v1/messages call and returns the raw envelope.
func (p *Provider) Invoke(ctx context.Context, req *entity.MessagesRequest, opts llm.InvokeOptions) (*llm.Response, error) {
	apiReq := BuildRequest(req)
	apiReq.Stream = opts.Stream

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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewUnreachable(p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
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
