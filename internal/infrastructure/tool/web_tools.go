package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

const (
	webClientTimeout  = 30 * time.Second
	webFetchMaxBytes  = 1 << 20 // 1 MiB body cap
	webFetchTextLimit = 20000
	searchResultCount = 5
	deepResultCount   = 10
	userAgent         = "modelgate/1.0"
)

// WebSearchTool queries a SearXNG instance over its JSON API.
type WebSearchTool struct {
	baseURL string
	client  *http.Client
}

func NewWebSearchTool(baseURL string) *WebSearchTool {
	return &WebSearchTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: webClientTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "WebSearch" }

func (t *WebSearchTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs and snippets. Set deep for more results, time_range to restrict freshness."
}

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":      map[string]any{"type": "string", "description": "Search query"},
			"deep":       map[string]any{"type": "boolean", "description": "Return more results"},
			"time_range": map[string]any{"type": "string", "enum": []any{"day", "week", "month", "year"}, "description": "Restrict results to this window"},
		},
		"required": []any{"query"},
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Engine  string `json:"engine"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	query := strings.TrimSpace(stringArg(args, "query", "q"))
	if query == "" {
		return failure("query is required")
	}
	if t.baseURL == "" {
		return failure("web search is not configured")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	switch tr := strings.TrimSpace(stringArg(args, "time_range")); tr {
	case "day", "week", "month", "year":
		params.Set("time_range", tr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return failure("build search request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return failure("search request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return failure("search backend returned %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, webFetchMaxBytes)).Decode(&parsed); err != nil {
		return failure("decode search response: %v", err)
	}

	limit := searchResultCount
	if boolArg(args, "deep") {
		limit = deepResultCount
	}
	if len(parsed.Results) < limit {
		limit = len(parsed.Results)
	}

	if limit == 0 {
		return &domaintool.Result{Success: true, Output: "No results found for: " + query}, nil
	}

	var sb strings.Builder
	for i, r := range parsed.Results[:limit] {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, strings.TrimSpace(r.Title), r.URL)
		if snippet := strings.TrimSpace(r.Content); snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", snippet)
		}
	}

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"query":   query,
			"results": limit,
		},
	}, nil
}

// WebFetchTool retrieves a URL and reduces HTML to readable text.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: webClientTimeout}}
}

func (t *WebFetchTool) Name() string { return "WebFetch" }

func (t *WebFetchTool) Kind() domaintool.Kind { return domaintool.KindFetch }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL. HTML is stripped to text; other content types return as-is. Bodies are capped at 1 MiB."
}

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "HTTP or HTTPS URL to fetch"},
		},
		"required": []any{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	rawURL := strings.TrimSpace(stringArg(args, "url"))
	if rawURL == "" {
		return failure("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return failure("url must be http or https: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure("build fetch request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return failure("fetch failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes))
	if err != nil {
		return failure("read body: %v", err)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if strings.Contains(contentType, "text/html") {
		text = htmlToText(text)
	}
	if len(text) > webFetchTextLimit {
		text = text[:webFetchTextLimit] + "\n... [content truncated]"
	}

	meta := map[string]any{
		"url":         rawURL,
		"status":      resp.StatusCode,
		"contentType": contentType,
		"bytes":       len(body),
	}

	if resp.StatusCode >= 400 {
		return &domaintool.Result{
			Success:  false,
			Output:   text,
			Error:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			Metadata: meta,
		}, nil
	}

	return &domaintool.Result{
		Success:  true,
		Output:   text,
		Metadata: meta,
	}, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
	spaceRe  = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToText is a crude reduction: drop scripts and styles, strip tags,
// unescape entities, collapse whitespace.
func htmlToText(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
