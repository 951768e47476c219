package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/domain/contextshape"
	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

// WaitForModel blocks until the daemon reports the model running or
// installed, pulling it once when missing. The overall wait is bounded
// by ctx; callers derive it from the startup timeout.
func (p *Provider) WaitForModel(ctx context.Context, model string) error {
	model = llm.StripModelPrefix(model)
	pulled := false

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if p.modelListed(ctx, "/api/ps", model) || p.modelListed(ctx, "/api/tags", model) {
			p.logger.Info("model ready", zap.String("model", model))
			return nil
		}

		if !pulled {
			pulled = true
			p.logger.Info("model not present, pulling", zap.String("model", model))
			if err := p.pullModel(ctx, model); err != nil {
				p.logger.Warn("model pull failed", zap.String("model", model), zap.Error(err))
			} else {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return llm.NewModelUnavailable(p.name, model, "startup wait timed out")
		case <-ticker.C:
		}
	}
}

// modelListed checks one of the daemon's model listings (/api/ps for
// running, /api/tags for installed).
func (p *Provider) modelListed(ctx context.Context, path, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var listing struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if json.NewDecoder(resp.Body).Decode(&listing) != nil {
		return false
	}
	for _, m := range listing.Models {
		if matchesModel(m.Name, model) || matchesModel(m.Model, model) {
			return true
		}
	}
	return false
}

// matchesModel compares daemon model names against the requested one,
// tolerating the implicit :latest tag.
func matchesModel(name, want string) bool {
	if name == "" {
		return false
	}
	if name == want || name == want+":latest" {
		return true
	}
	return strings.SplitN(name, ":", 2)[0] == want
}

// pullModel asks the daemon to download the model. The request blocks
// until the pull completes, bounded by pullTimeout.
func (p *Provider) pullModel(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"model": model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("pull %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

var _ contextshape.Prober = (*Provider)(nil)

// ContextWindow resolves the model's context window from /api/show.
// Successful answers are cached for the life of the process.
func (p *Provider) ContextWindow(ctx context.Context, model string) (int, bool) {
	model = llm.StripModelPrefix(model)

	p.windowMu.RLock()
	cached, ok := p.windows[model]
	p.windowMu.RUnlock()
	if ok {
		return cached, cached > 0
	}

	tokens := p.probeContextWindow(ctx, model)
	if tokens > 0 {
		p.windowMu.Lock()
		p.windows[model] = tokens
		p.windowMu.Unlock()
	}
	return tokens, tokens > 0
}

// probeContextWindow reads model_info from /api/show and picks the
// architecture-prefixed "<family>.context_length" entry.
func (p *Provider) probeContextWindow(ctx context.Context, model string) int {
	base := p.endpointFor(model)
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req, base)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var show struct {
		ModelInfo map[string]any `json:"model_info"`
	}
	if json.NewDecoder(resp.Body).Decode(&show) != nil {
		return 0
	}
	for key, val := range show.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if f, ok := val.(float64); ok && f > 0 {
			return int(f)
		}
	}
	return 0
}
