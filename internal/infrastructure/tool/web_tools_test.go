package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func searchBackend(t *testing.T, results []map[string]string, gotQuery *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if gotQuery != nil {
			q := map[string]string{}
			for k := range r.URL.Query() {
				q[k] = r.URL.Query().Get(k)
			}
			*gotQuery = q
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
}

func TestWebSearchTool_FormatsResults(t *testing.T) {
	var got map[string]string
	server := searchBackend(t, []map[string]string{
		{"title": "Go Proverbs", "url": "https://go-proverbs.github.io", "content": "Simple, readable, maintainable."},
		{"title": "Effective Go", "url": "https://go.dev/doc/effective_go", "content": ""},
	}, &got)
	defer server.Close()

	res, err := NewWebSearchTool(server.URL).Execute(context.Background(), map[string]any{
		"query": "go style",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if got["q"] != "go style" || got["format"] != "json" {
		t.Errorf("query params = %v", got)
	}
	if !strings.Contains(res.Output, "1. Go Proverbs\n   https://go-proverbs.github.io\n   Simple, readable, maintainable.") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "2. Effective Go") {
		t.Errorf("second result missing: %q", res.Output)
	}
}

func TestWebSearchTool_DeepAndTimeRange(t *testing.T) {
	results := make([]map[string]string, 12)
	for i := range results {
		results[i] = map[string]string{"title": "r", "url": "https://example.com", "content": "c"}
	}
	var got map[string]string
	server := searchBackend(t, results, &got)
	defer server.Close()

	res, err := NewWebSearchTool(server.URL).Execute(context.Background(), map[string]any{
		"query":      "news",
		"deep":       true,
		"time_range": "week",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got["time_range"] != "week" {
		t.Errorf("time_range = %q", got["time_range"])
	}
	if res.Metadata["results"] != 10 {
		t.Errorf("results = %v, want 10", res.Metadata["results"])
	}
	if !strings.Contains(res.Output, "10. r") {
		t.Errorf("deep output stops early:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "11. ") {
		t.Errorf("deep output overruns:\n%s", res.Output)
	}
}

func TestWebSearchTool_NoResults(t *testing.T) {
	server := searchBackend(t, nil, nil)
	defer server.Close()

	res, err := NewWebSearchTool(server.URL).Execute(context.Background(), map[string]any{
		"query": "xyzzy",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("no results is not an error: %+v", res)
	}
	if !strings.Contains(res.Output, "No results found") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestWebSearchTool_BackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	res, err := NewWebSearchTool(server.URL).Execute(context.Background(), map[string]any{
		"query": "anything",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "500") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestWebSearchTool_Unconfigured(t *testing.T) {
	res, err := NewWebSearchTool("").Execute(context.Background(), map[string]any{
		"query": "anything",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "not configured") {
		t.Errorf("result = %+v", res)
	}
}

func TestWebFetchTool_StripsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><style>body{color:red}</style>
<script>alert("nope")</script></head>
<body><h1>Release &amp; Notes</h1><p>Version   2 shipped.</p></body></html>`))
	}))
	defer server.Close()

	res, err := NewWebFetchTool().Execute(context.Background(), map[string]any{
		"url": server.URL,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if strings.Contains(res.Output, "alert") || strings.Contains(res.Output, "color:red") {
		t.Errorf("script or style leaked: %q", res.Output)
	}
	if !strings.Contains(res.Output, "Release & Notes") {
		t.Errorf("entities not unescaped: %q", res.Output)
	}
	if !strings.Contains(res.Output, "Version 2 shipped.") {
		t.Errorf("whitespace not collapsed: %q", res.Output)
	}
}

func TestWebFetchTool_PlainContentPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	res, err := NewWebFetchTool().Execute(context.Background(), map[string]any{
		"url": server.URL,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output != `{"ok":true}` {
		t.Errorf("output = %q", res.Output)
	}
	if res.Metadata["status"] != 200 {
		t.Errorf("status = %v", res.Metadata["status"])
	}
}

func TestWebFetchTool_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	res, err := NewWebFetchTool().Execute(context.Background(), map[string]any{
		"url": server.URL,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "HTTP 404" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestWebFetchTool_RejectsNonHTTPSchemes(t *testing.T) {
	res, err := NewWebFetchTool().Execute(context.Background(), map[string]any{
		"url": "ftp://example.com/file",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "http") {
		t.Errorf("result = %+v", res)
	}
}
