package gemini

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

func init() {
	llm.RegisterFactory("gemini", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider speaks the Google Gemini generateContent dialect.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Gemini provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  llm.NewHTTPClient(),
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "gemini")),
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

// The dialect carries the key as a query parameter, so a key is always
// required.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// BuildRequest converts the canonical payload into generateContent wire
// form. Tool results correlate by function name on this wire, so the
// conversion tracks which call id belonged to which function.
func BuildRequest(req *entity.MessagesRequest) *Request {
	system, msgs := llm.PrepareMessages(req)

	out := &Request{}
	if system != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		out.GenerationConfig = &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	callNames := map[string]string{}
	for _, m := range msgs {
		role := "user"
		if m.Role == entity.RoleAssistant {
			role = "model"
		}
		content := Content{Role: role}
		for _, b := range m.Content {
			switch b.Type {
			case entity.BlockText:
				if b.Text != "" {
					content.Parts = append(content.Parts, Part{Text: b.Text})
				}
			case entity.BlockToolUse:
				callNames[b.ID] = b.Name
				content.Parts = append(content.Parts, Part{
					FunctionCall: &FunctionCall{Name: b.Name, Args: b.Input},
				})
			case entity.BlockToolResult:
				name := callNames[b.ToolUseID]
				if name == "" {
					name = b.ToolUseID
				}
				content.Parts = append(content.Parts, Part{
					FunctionResponse: &FunctionResponse{
						Name:     name,
						Response: map[string]any{"output": b.Content},
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]FunctionDeclarationSpec, 0, len(req.Tools))
		for _, td := range req.Tools {
			decls = append(decls, FunctionDeclarationSpec{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.EnsureObjectSchema(),
			})
		}
		out.Tools = []ToolDeclaration{{FunctionDeclarations: decls}}
	}
	return out
}

// Invoke performs one generateContent call and returns the raw envelope.
// Streaming uses the :streamGenerateContent endpoint with SSE framing.
func (p *Provider) Invoke(ctx context.Context, req *entity.MessagesRequest, opts llm.InvokeOptions) (*llm.Response, error) {
	apiReq := BuildRequest(req)
	model := llm.StripModelPrefix(req.Model)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewMalformed(p.name, 0, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	if opts.Stream {
		url = fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)
	} else {
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
