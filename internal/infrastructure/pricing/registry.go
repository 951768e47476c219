package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// LiteLLM's community price sheet, per-token costs.
	defaultLiteLLMURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	// models.dev catalogue, per-million costs.
	defaultModelsDevURL = "https://models.dev/api.json"

	cacheFileName = "model-prices-cache.json"
	defaultTTL    = 24 * time.Hour
	fetchTimeout  = 30 * time.Second
)

// litellmEntry is one model row of the LiteLLM sheet. Costs are per token.
type litellmEntry struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
	Provider           string  `json:"litellm_provider"`
}

// modelsDevProvider is one provider of the models.dev catalogue.
type modelsDevProvider struct {
	Models map[string]modelsDevModel `json:"models"`
}

type modelsDevModel struct {
	Cost struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"cost"`
}

// cacheFile is the on-disk snapshot of both sources.
type cacheFile struct {
	LiteLLM   map[string]litellmEntry      `json:"litellm"`
	ModelsDev map[string]modelsDevProvider `json:"modelsDev"`
	Timestamp time.Time                    `json:"timestamp"`
}

// databricksPrices is the built-in fallback sheet, per-million costs.
// Neither upstream source lists the Databricks serving endpoints.
var databricksPrices = map[string][2]float64{
	"databricks-dbrx-instruct":               {0.75, 2.25},
	"databricks-meta-llama-3-1-405b-instruct": {5.00, 15.00},
	"databricks-meta-llama-3-3-70b-instruct":  {1.00, 3.00},
	"databricks-mixtral-8x7b-instruct":        {0.50, 1.00},
}

// Registry merges the LiteLLM sheet, the models.dev catalogue and the
// built-in Databricks sheet into one per-million-token price lookup. The
// merged snapshot is cached on disk and considered fresh for 24 hours.
type Registry struct {
	mu        sync.RWMutex
	litellm   map[string]litellmEntry
	modelsDev map[string]modelsDevProvider
	fetchedAt time.Time

	cachePath    string
	liteLLMURL   string
	modelsDevURL string
	ttl          time.Duration
	client       *http.Client
	now          func() time.Time
	logger       *zap.Logger
}

// NewRegistry creates a price registry writing its cache under dataDir.
func NewRegistry(dataDir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cachePath:    filepath.Join(dataDir, cacheFileName),
		liteLLMURL:   defaultLiteLLMURL,
		modelsDevURL: defaultModelsDevURL,
		ttl:          defaultTTL,
		client:       &http.Client{Timeout: fetchTimeout},
		now:          time.Now,
		logger:       logger.Named("pricing"),
	}
}

// Load primes the registry: a fresh disk cache is used as-is, otherwise
// both sources are fetched. A stale cache survives fetch failures so the
// gateway keeps pricing through upstream outages.
func (r *Registry) Load(ctx context.Context) error {
	if cached, err := r.readCache(); err == nil {
		r.install(cached.LiteLLM, cached.ModelsDev, cached.Timestamp)
		if r.now().Sub(cached.Timestamp) < r.ttl {
			r.logger.Info("price cache fresh",
				zap.Int("litellm_models", len(cached.LiteLLM)),
				zap.Int("modelsdev_providers", len(cached.ModelsDev)),
				zap.Time("fetched_at", cached.Timestamp))
			return nil
		}
		r.logger.Info("price cache stale, refreshing", zap.Time("fetched_at", cached.Timestamp))
	}

	if err := r.Refresh(ctx); err != nil {
		if r.Len() > 0 {
			r.logger.Warn("price refresh failed, serving stale cache", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Refresh fetches both sources and rewrites the disk cache. A source that
// fails keeps its previous data.
func (r *Registry) Refresh(ctx context.Context) error {
	var (
		lite    map[string]litellmEntry
		dev     map[string]modelsDevProvider
		liteErr error
		devErr  error
	)

	liteErr = r.fetchJSON(ctx, r.liteLLMURL, &lite)
	devErr = r.fetchJSON(ctx, r.modelsDevURL, &dev)

	r.mu.RLock()
	if liteErr != nil {
		lite = r.litellm
	}
	if devErr != nil {
		dev = r.modelsDev
	}
	r.mu.RUnlock()

	if liteErr != nil && devErr != nil {
		return fmt.Errorf("price fetch failed: litellm: %v; models.dev: %v", liteErr, devErr)
	}
	if liteErr != nil {
		r.logger.Warn("litellm price fetch failed", zap.Error(liteErr))
	}
	if devErr != nil {
		r.logger.Warn("models.dev fetch failed", zap.Error(devErr))
	}

	now := r.now()
	r.install(lite, dev, now)
	r.writeCache(cacheFile{LiteLLM: lite, ModelsDev: dev, Timestamp: now})
	r.logger.Info("prices refreshed",
		zap.Int("litellm_models", len(lite)),
		zap.Int("modelsdev_providers", len(dev)))
	return nil
}

// Price answers per-million-token input/output prices for a provider and
// model, trying LiteLLM, models.dev and the built-in sheet in that order.
func (r *Registry) Price(provider, model string) (input, output float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stripped := stripPrefix(model)
	for _, key := range []string{model, provider + "/" + model, stripped, strings.ToLower(stripped)} {
		if e, found := r.litellm[key]; found {
			return e.InputCostPerToken * 1e6, e.OutputCostPerToken * 1e6, true
		}
	}

	if p, found := r.modelsDev[provider]; found {
		for _, key := range []string{model, stripped} {
			if m, found := p.Models[key]; found {
				return m.Cost.Input, m.Cost.Output, true
			}
		}
	}
	for _, p := range r.modelsDev {
		if m, found := p.Models[stripped]; found {
			return m.Cost.Input, m.Cost.Output, true
		}
	}

	if cost, found := databricksPrices[stripped]; found {
		return cost[0], cost[1], true
	}
	return 0, 0, false
}

// Len reports how many models the merged snapshot covers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.litellm)
	for _, p := range r.modelsDev {
		n += len(p.Models)
	}
	return n
}

// FetchedAt reports when the current snapshot was fetched.
func (r *Registry) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

func (r *Registry) install(lite map[string]litellmEntry, dev map[string]modelsDevProvider, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lite != nil {
		r.litellm = lite
	}
	if dev != nil {
		r.modelsDev = dev
	}
	r.fetchedAt = at
}

func (r *Registry) fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *Registry) readCache() (cacheFile, error) {
	var cached cacheFile
	b, err := os.ReadFile(r.cachePath)
	if err != nil {
		return cached, err
	}
	if err := json.Unmarshal(b, &cached); err != nil {
		return cached, err
	}
	return cached, nil
}

func (r *Registry) writeCache(c cacheFile) {
	if err := os.MkdirAll(filepath.Dir(r.cachePath), 0o755); err != nil {
		r.logger.Warn("price cache dir", zap.Error(err))
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := os.WriteFile(r.cachePath, b, 0o644); err != nil {
		r.logger.Warn("price cache write", zap.Error(err))
	}
}

// stripPrefix removes a "provider/" prefix from a model identifier.
func stripPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
