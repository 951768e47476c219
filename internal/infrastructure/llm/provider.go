package llm

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"go.uber.org/zap"
)

// DefaultChatTimeout bounds a non-streaming chat call end to end.
// Streaming calls are bounded by the caller's context and idle detection.
const DefaultChatTimeout = 300 * time.Second

// InvokeOptions tune a single provider call.
type InvokeOptions struct {
	// Stream asks for the provider's streaming wire form; the envelope
	// then carries Stream instead of a decoded body.
	Stream bool
	// Timeout overrides DefaultChatTimeout for this call. Ignored for
	// streaming calls.
	Timeout time.Duration
}

// Response is the raw envelope of one provider call. Exactly one of JSON,
// Text or Stream is populated. Clients never interpret tool calls; the
// format bridge normalises the envelope afterwards.
type Response struct {
	Status         int
	Headers        http.Header
	JSON           map[string]any // body when it decoded as a JSON object
	Text           string         // body when it did not
	Stream         io.ReadCloser  // streaming body, caller owns Close
	ContentType    string
	OK             bool // Status in the 2xx range
	ActualProvider string

	raw []byte
}

// RawBody returns the undecoded body bytes for non-streaming responses.
func (r *Response) RawBody() []byte {
	if r.raw != nil {
		return r.raw
	}
	if r.JSON != nil {
		b, err := json.Marshal(r.JSON)
		if err == nil {
			return b
		}
	}
	return []byte(r.Text)
}

// IsStream reports whether the envelope carries a live body.
func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// Err classifies a non-OK envelope into the typed error for it, or nil for
// OK envelopes. Providers return the envelope as-is; the failover router and
// the loop decide through this what a non-2xx means.
func (r *Response) Err() error {
	if r == nil {
		return nil
	}
	if r.OK {
		return nil
	}
	body := r.Text
	if body == "" && r.raw != nil {
		body = string(r.raw)
	}
	if looksLikeContextOverflow(body) {
		return &ProviderError{
			Provider: r.ActualProvider,
			Kind:     KindContextOverflow,
			Status:   r.Status,
			Message:  upstreamErrorMessage(r.JSON, body),
		}
	}
	if looksLikeModelMissing(body) {
		return &ProviderError{
			Provider: r.ActualProvider,
			Kind:     KindModelUnavailable,
			Status:   r.Status,
			Message:  upstreamErrorMessage(r.JSON, body),
		}
	}
	if r.JSON != nil {
		return NewAPIError(r.ActualProvider, r.Status, upstreamErrorMessage(r.JSON, body))
	}
	return NewMalformed(r.ActualProvider, r.Status, fmt.Errorf("non-JSON error body: %s", TruncateForLog(body, 200)))
}

// upstreamErrorMessage digs the human-readable message out of the common
// upstream error shapes: {"error":{"message":...}}, {"error":"..."},
// {"message":"..."}.
func upstreamErrorMessage(body map[string]any, fallback string) string {
	if body != nil {
		switch e := body["error"].(type) {
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		case string:
			if e != "" {
				return e
			}
		}
		if msg, ok := body["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return TruncateForLog(fallback, 300)
}

// Provider is one backend client. Invoke translates the canonical payload
// into the provider's dialect, performs exactly one HTTP call, and returns
// the raw envelope.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req *entity.MessagesRequest, opts InvokeOptions) (*Response, error)
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig holds configuration for one provider instance.
type ProviderConfig struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // "openai" (default) | "anthropic" | "ollama" | "gemini"
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Models  []string `json:"models"`

	// Ollama extras; other types ignore them.
	CloudBaseURL string `json:"cloud_base_url,omitempty"`
	ToolModel    string `json:"tool_model,omitempty"`
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Type. An empty Type defaults to "openai", the dialect most
// compatible endpoints speak.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}

// NewHTTPClient builds the tuned client every provider shares: patient
// response-header timeout for slow local models, small idle pool, TLS 1.2+.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// WrapHTTPResponse reads a completed HTTP exchange into the envelope.
// The body is consumed and closed.
func WrapHTTPResponse(provider string, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewMalformed(provider, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	out := &Response{
		Status:         resp.StatusCode,
		Headers:        resp.Header,
		ContentType:    resp.Header.Get("Content-Type"),
		OK:             resp.StatusCode >= 200 && resp.StatusCode < 300,
		ActualProvider: provider,
		raw:            body,
	}

	var decoded map[string]any
	if json.Unmarshal(body, &decoded) == nil {
		out.JSON = decoded
	} else {
		out.Text = string(body)
	}
	return out, nil
}

// WrapStreamResponse hands the live body through as the envelope. The
// caller owns closing the stream.
func WrapStreamResponse(provider string, resp *http.Response) *Response {
	return &Response{
		Status:         resp.StatusCode,
		Headers:        resp.Header,
		Stream:         resp.Body,
		ContentType:    resp.Header.Get("Content-Type"),
		OK:             resp.StatusCode >= 200 && resp.StatusCode < 300,
		ActualProvider: provider,
	}
}

// StripModelPrefix removes a provider prefix from a model identifier
// (e.g. "openrouter/qwen3-max" becomes "qwen3-max").
func StripModelPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// TruncateForLog clips a string for log and preview fields.
func TruncateForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
