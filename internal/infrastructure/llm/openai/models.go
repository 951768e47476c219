package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/domain/contextshape"
	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const listTimeout = 5 * time.Second

var _ contextshape.Prober = (*Provider)(nil)

// ContextWindow resolves the model's context window from the endpoint's
// /models listing (OpenRouter and compatible gateways publish
// context_length there). The listing is fetched once per process; an
// unreachable endpoint is retried on the next lookup.
func (p *Provider) ContextWindow(ctx context.Context, model string) (int, bool) {
	model = llm.StripModelPrefix(model)

	p.windowMu.RLock()
	if p.windowsLoaded {
		tokens, ok := p.windows[model]
		p.windowMu.RUnlock()
		return tokens, ok && tokens > 0
	}
	p.windowMu.RUnlock()

	p.windowMu.Lock()
	defer p.windowMu.Unlock()
	if !p.windowsLoaded {
		windows, err := p.fetchModelWindows(ctx)
		if err != nil {
			p.logger.Debug("model listing fetch failed", zap.Error(err))
			return 0, false
		}
		p.windows = windows
		p.windowsLoaded = true
	}
	tokens, ok := p.windows[model]
	return tokens, ok && tokens > 0
}

// fetchModelWindows reads GET /models and indexes context lengths under
// both the listed id and its prefix-stripped form.
func (p *Provider) fetchModelWindows(ctx context.Context) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models listing: status %d", resp.StatusCode)
	}

	var listing struct {
		Data []struct {
			ID            string `json:"id"`
			ContextLength int    `json:"context_length"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}

	windows := make(map[string]int, len(listing.Data)*2)
	for _, m := range listing.Data {
		if m.ContextLength <= 0 {
			continue
		}
		windows[m.ID] = m.ContextLength
		if stripped := llm.StripModelPrefix(m.ID); stripped != m.ID {
			if _, taken := windows[stripped]; !taken {
				windows[stripped] = m.ContextLength
			}
		}
	}
	return windows, nil
}
