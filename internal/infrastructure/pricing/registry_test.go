package pricing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testLiteLLM = `{
	"gpt-4o": {"input_cost_per_token": 0.0000025, "output_cost_per_token": 0.00001, "litellm_provider": "openai"},
	"qwen3-max": {"input_cost_per_token": 0.0000012, "output_cost_per_token": 0.000006, "litellm_provider": "openrouter"}
}`

const testModelsDev = `{
	"anthropic": {"models": {"claude-sonnet-4": {"cost": {"input": 3, "output": 15}}}},
	"google": {"models": {"gemini-2.0-flash": {"cost": {"input": 0.1, "output": 0.4}}}}
}`

func testRegistry(t *testing.T, dataDir string) (*Registry, *int) {
	t.Helper()
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/litellm":
			io.WriteString(w, testLiteLLM)
		case "/modelsdev":
			io.WriteString(w, testModelsDev)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	r := NewRegistry(dataDir, zap.NewNop())
	r.liteLLMURL = server.URL + "/litellm"
	r.modelsDevURL = server.URL + "/modelsdev"
	return r, &fetches
}

func TestRegistry_MergesSources(t *testing.T) {
	dir := t.TempDir()
	r, _ := testRegistry(t, dir)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	tests := []struct {
		name     string
		provider string
		model    string
		in, out  float64
		ok       bool
	}{
		{"litellm per-token scaled to per-million", "openai", "gpt-4o", 2.5, 10, true},
		{"provider prefix stripped", "openrouter", "openrouter/qwen3-max", 1.2, 6, true},
		{"models.dev by provider", "anthropic", "claude-sonnet-4", 3, 15, true},
		{"models.dev scanned across providers", "openrouter", "gemini-2.0-flash", 0.1, 0.4, true},
		{"built-in databricks sheet", "databricks", "databricks-dbrx-instruct", 0.75, 2.25, true},
		{"unknown model", "openai", "made-up", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out, ok := r.Price(tt.provider, tt.model)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if in != tt.in || out != tt.out {
				t.Errorf("price = %v/%v, want %v/%v", in, out, tt.in, tt.out)
			}
		})
	}
}

func TestRegistry_WritesCacheFile(t *testing.T) {
	dir := t.TempDir()
	r, _ := testRegistry(t, dir)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	if err != nil {
		t.Fatalf("cache file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("cache json: %v", err)
	}
	for _, key := range []string{"litellm", "modelsDev", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("cache file missing %q", key)
		}
	}
}

func TestRegistry_FreshCacheSkipsFetch(t *testing.T) {
	dir := t.TempDir()

	seed, _ := testRegistry(t, dir)
	if err := seed.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	r, fetches := testRegistry(t, dir)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if *fetches != 0 {
		t.Errorf("fresh cache still fetched %d times", *fetches)
	}
	if _, _, ok := r.Price("openai", "gpt-4o"); !ok {
		t.Error("cached prices not served")
	}
}

func TestRegistry_StaleCacheRefreshes(t *testing.T) {
	dir := t.TempDir()

	seed, _ := testRegistry(t, dir)
	if err := seed.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	r, fetches := testRegistry(t, dir)
	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if *fetches == 0 {
		t.Error("stale cache should have triggered a refresh")
	}
}

func TestRegistry_FetchFailureServesStaleCache(t *testing.T) {
	dir := t.TempDir()

	seed, _ := testRegistry(t, dir)
	if err := seed.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	r := NewRegistry(dir, zap.NewNop())
	r.liteLLMURL = "http://127.0.0.1:1/litellm"
	r.modelsDevURL = "http://127.0.0.1:1/modelsdev"
	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("stale data should keep the gateway priced, got %v", err)
	}
	if _, _, ok := r.Price("openai", "gpt-4o"); !ok {
		t.Error("stale prices not served")
	}
}

func TestRegistry_ColdStartFetchFailure(t *testing.T) {
	r := NewRegistry(t.TempDir(), zap.NewNop())
	r.liteLLMURL = "http://127.0.0.1:1/litellm"
	r.modelsDevURL = "http://127.0.0.1:1/modelsdev"

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected an error with no cache and no upstream")
	}
}
