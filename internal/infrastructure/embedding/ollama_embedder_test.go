package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedFixture(dim, n int) embedResponse {
	vectors := make([][]float32, n)
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(i+1) * 0.1
		}
		vectors[i] = vec
	}
	return embedResponse{Model: "embed-test", Embeddings: vectors}
}

func TestOllamaEmbedder_ProbesDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "embed-test" {
			t.Fatalf("unexpected model: %s", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedFixture(8, 1))
	}))
	defer server.Close()

	embedder, err := NewOllamaEmbedder(server.URL, "embed-test", nil)
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}
	if embedder.Dimension() != 8 {
		t.Fatalf("Dimension = %d, want 8", embedder.Dimension())
	}

	vec, err := embedder.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("vector has %d dims, want 8", len(vec))
	}
}

func TestOllamaEmbedder_BatchIsOneCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)

		n := 1
		if items, ok := req.Input.([]interface{}); ok {
			n = len(items)
		}
		json.NewEncoder(w).Encode(embedFixture(4, n))
	}))
	defer server.Close()

	embedder, err := NewOllamaEmbedder(server.URL, "embed-test", nil)
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}
	calls = 0 // drop the construction probe

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if calls != 1 {
		t.Fatalf("batch took %d calls, want 1", calls)
	}
}

func TestOllamaEmbedder_EmptyBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedFixture(2, 1))
	}))
	defer server.Close()

	embedder, err := NewOllamaEmbedder(server.URL, "embed-test", nil)
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}
	vectors, err := embedder.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vectors != nil {
		t.Fatalf("expected nil for an empty batch, got %v", vectors)
	}
}

func TestOllamaEmbedder_RetriesDeadConnection(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Kill the first connection mid-flight so the client sees a
			// transport error rather than an HTTP status.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(embedFixture(4, 1))
	}))
	defer server.Close()

	// The construction probe absorbs the dead connection and retries.
	embedder, err := NewOllamaEmbedder(server.URL, "embed-test", nil)
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}
	if embedder.Dimension() != 4 {
		t.Fatalf("Dimension = %d, want 4", embedder.Dimension())
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts (dead + retry), got %d", calls)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer server.Close()

	if _, err := NewOllamaEmbedder(server.URL, "missing-model", nil); err == nil {
		t.Fatal("expected the construction probe to fail")
	}
}
