package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	llm "github.com/modelgate/modelgate/internal/infrastructure/llm"
)

func TestContextWindow_FromModelsListing(t *testing.T) {
	var fetches int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		fetches++
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[
			{"id":"qwen/qwen3-max","context_length":262144},
			{"id":"anthropic/claude-sonnet-4","context_length":200000},
			{"id":"broken/no-window","context_length":0}
		]}`)
	}))
	defer server.Close()

	p := New(llm.ProviderConfig{Name: "openrouter", BaseURL: server.URL, APIKey: "sk-or"}, testLogger())

	tokens, ok := p.ContextWindow(context.Background(), "qwen/qwen3-max")
	if !ok || tokens != 262144 {
		t.Fatalf("ContextWindow = %d, %v", tokens, ok)
	}

	// The prefix-stripped form resolves to the same listing entry.
	if tokens, ok := p.ContextWindow(context.Background(), "claude-sonnet-4"); !ok || tokens != 200000 {
		t.Errorf("stripped lookup = %d, %v", tokens, ok)
	}
	if _, ok := p.ContextWindow(context.Background(), "no-window"); ok {
		t.Error("zero context_length must not resolve")
	}
	if _, ok := p.ContextWindow(context.Background(), "not-listed"); ok {
		t.Error("unlisted model must not resolve")
	}
	if fetches != 1 {
		t.Errorf("expected one listing fetch, got %d", fetches)
	}
}

func TestContextWindow_UnreachableEndpointRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := New(llm.ProviderConfig{Name: "openrouter", BaseURL: url, APIKey: "sk-or"}, testLogger())
	if _, ok := p.ContextWindow(context.Background(), "qwen3-max"); ok {
		t.Fatal("unreachable listing must not resolve")
	}
	// The failure is not cached; the next lookup tries the fetch again.
	if p.windowsLoaded {
		t.Error("failed fetch must not mark the listing loaded")
	}
}
