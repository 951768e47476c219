package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
	"github.com/modelgate/modelgate/internal/infrastructure/llm/anthropic"
	"github.com/modelgate/modelgate/internal/infrastructure/llm/openai"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://localhost:11434"
	probeTimeout   = 5 * time.Second
	pullTimeout    = 5 * time.Minute
	pollInterval   = 2 * time.Second
)

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the Ollama client. On top of the plain dialect translation
// it routes cloud-tagged models to a cloud endpoint, probes once for the
// daemon's Anthropic-compatible /v1/messages route, injects a canonical
// tool set when a dedicated tool model is configured, and can wait for a
// model to be loaded at startup.
type Provider struct {
	name         string
	baseURL      string
	cloudBaseURL string
	apiKey       string
	models       []string
	toolModel    string
	client       *http.Client
	logger       *zap.Logger

	toolSource func() []entity.Tool

	// /v1/messages support per endpoint, probed once per process.
	probeMu sync.Mutex
	probed  map[string]bool

	// context windows per model, from /api/show.
	windowMu sync.RWMutex
	windows  map[string]int
}

// New creates an Ollama provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		name:         cfg.Name,
		baseURL:      baseURL,
		cloudBaseURL: strings.TrimRight(cfg.CloudBaseURL, "/"),
		apiKey:       cfg.APIKey,
		models:       cfg.Models,
		toolModel:    cfg.ToolModel,
		client:       llm.NewHTTPClient(),
		logger:       logger.With(zap.String("provider", cfg.Name), zap.String("type", "ollama")),
		probed:       map[string]bool{},
		windows:      map[string]int{},
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

// IsAvailable pings the local daemon. A configured cloud endpoint with a
// key counts as available even when no daemon runs locally.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if p.cloudBaseURL != "" && p.apiKey != "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// SetToolInjection supplies the canonical tool set injected when the
// payload binds no tools but a dedicated tool model is configured.
func (p *Provider) SetToolInjection(src func() []entity.Tool) {
	p.toolSource = src
}

// IsCloudModel reports whether the model carries Ollama's cloud tag.
func IsCloudModel(model string) bool {
	return strings.HasSuffix(model, "-cloud") || strings.HasSuffix(model, ":cloud")
}

// endpointFor picks the serving endpoint: cloud-tagged models go to the
// cloud endpoint when one is configured, everything else stays local.
func (p *Provider) endpointFor(model string) string {
	if p.cloudBaseURL != "" && IsCloudModel(model) {
		return p.cloudBaseURL
	}
	return p.baseURL
}

// setAuth attaches the API key. It is sent only to the cloud endpoint;
// local daemons are unauthenticated.
func (p *Provider) setAuth(req *http.Request, base string) {
	if p.apiKey != "" && p.cloudBaseURL != "" && base == p.cloudBaseURL {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// supportsMessagesRoute reports whether the endpoint serves the
// Anthropic-compatible /v1/messages route. The answer is cached for the
// life of the process; 404/405 mean the daemon predates the route and
// chat falls back to /v1/chat/completions. An unreachable endpoint is
// not cached so a daemon that comes up later is probed again.
func (p *Provider) supportsMessagesRoute(base string) bool {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	if v, ok := p.probed[base]; ok {
		return v
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages",
		strings.NewReader(`{"model":"","max_tokens":1,"messages":[]}`))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req, base)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Anthropic route probe unreachable", zap.String("endpoint", base), zap.Error(err))
		return false
	}
	resp.Body.Close()

	supported := resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed
	p.probed[base] = supported
	p.logger.Info("Anthropic route probe",
		zap.String("endpoint", base),
		zap.Int("status", resp.StatusCode),
		zap.Bool("supported", supported))
	return supported
}

// injectTools returns the request with the canonical tool set attached
// when injection applies. The caller's request is never mutated.
func (p *Provider) injectTools(req *entity.MessagesRequest) *entity.MessagesRequest {
	if p.toolModel == "" || p.toolSource == nil || req.NoToolInjection || len(req.Tools) > 0 {
		return req
	}
	tools := p.toolSource()
	if len(tools) == 0 {
		return req
	}
	clone := *req
	clone.Tools = tools
	p.logger.Debug("injected canonical tool set",
		zap.Int("tools", len(tools)),
		zap.String("tool_model", p.toolModel))
	return &clone
}

// Invoke performs one chat call against the daemon, preferring the
// Anthropic-compatible route when the endpoint has one.
func (p *Provider) Invoke(ctx context.Context, req *entity.MessagesRequest, opts llm.InvokeOptions) (*llm.Response, error) {
	base := p.endpointFor(llm.StripModelPrefix(req.Model))
	effective := p.injectTools(req)

	var (
		body []byte
		err  error
		url  string
	)
	if p.supportsMessagesRoute(base) {
		apiReq := anthropic.BuildRequest(effective)
		apiReq.Stream = opts.Stream
		body, err = json.Marshal(apiReq)
		url = base + "/v1/messages"
	} else {
		apiReq := openai.BuildRequest(effective)
		if opts.Stream {
			apiReq.Stream = true
			apiReq.StreamOptions = map[string]any{"include_usage": true}
		}
		body, err = json.Marshal(apiReq)
		url = base + "/v1/chat/completions"
	}
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewUnreachable(p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setAuth(httpReq, base)
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
