package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestProviderError_KindsAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        *ProviderError
		wantKind   ErrorKind
		wantStatus int
	}{
		{"unreachable", NewUnreachable("ollama", errors.New("connection refused")), KindProviderUnreachable, http.StatusServiceUnavailable},
		{"model unavailable", NewModelUnavailable("ollama", "llama9", "not pulled"), KindModelUnavailable, http.StatusServiceUnavailable},
		{"api error keeps upstream status", NewAPIError("openrouter", 429, "rate limited"), KindAPIError, 429},
		{"api error without status", NewAPIError("openrouter", 0, "boom"), KindAPIError, http.StatusBadGateway},
		{"malformed keeps 4xx", NewMalformed("gemini", 422, errors.New("bad json")), KindMalformedResponse, 422},
		{"malformed without status", NewMalformed("gemini", 0, errors.New("bad json")), KindMalformedResponse, http.StatusBadGateway},
		{"overflow answers 400", &ProviderError{Provider: "anthropic", Kind: KindContextOverflow, Status: 413, Message: "prompt is too long"}, KindContextOverflow, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", tt.err.Kind, tt.wantKind)
			}
			if got := tt.err.HTTPStatus(); got != tt.wantStatus {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestKindOf_UnwrapsThroughWrapping(t *testing.T) {
	base := NewModelUnavailable("ollama", "llama9", "")
	wrapped := fmt.Errorf("call failed: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindModelUnavailable {
		t.Fatalf("KindOf(wrapped) = %v, %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("plain error should carry no kind")
	}
}

func TestLooksLikeModelMissing(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"error":"model \"llama9\" not found, try pulling it first"}`, true},
		{`{"error":{"message":"The model does not exist"}}`, true},
		{`{"error":{"message":"unknown model: gpt-9","type":"model_not_found"}}`, true},
		{"model x is not supported", true},
		// "not found" without the word model is about the route, not the model.
		{"404 page not found", false},
		{"rate limit exceeded", false},
	}
	for _, tt := range tests {
		if got := looksLikeModelMissing(tt.body); got != tt.want {
			t.Errorf("looksLikeModelMissing(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestLooksLikeContextOverflow(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`, true},
		{`{"error":{"message":"This model's maximum context length is 8192 tokens."}}`, true},
		{`{"error":{"type":"request_too_large","message":"Request exceeds the maximum size"}}`, true},
		{"context length exceeded", true},
		{"rate limit exceeded", false},
		{`{"error":"model not found"}`, false},
	}
	for _, tt := range tests {
		if got := looksLikeContextOverflow(tt.body); got != tt.want {
			t.Errorf("looksLikeContextOverflow(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestIsRetryable_TypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unreachable", NewUnreachable("p", errors.New("dial tcp: refused")), true},
		{"model unavailable", NewModelUnavailable("p", "m", ""), true},
		{"malformed", NewMalformed("p", 200, errors.New("truncated body")), false},
		{"context overflow", &ProviderError{Provider: "p", Kind: KindContextOverflow, Status: 400}, false},
		{"api 429", NewAPIError("p", 429, "slow down"), true},
		{"api 500", NewAPIError("p", 500, "oops"), true},
		{"api 503", NewAPIError("p", 503, "overloaded"), true},
		{"api 401", NewAPIError("p", 401, "bad key"), true},
		{"api 403", NewAPIError("p", 403, "forbidden"), true},
		{"api 400", NewAPIError("p", 400, "invalid request"), false},
		{"api 404", NewAPIError("p", 404, "unknown route"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable_PlainErrorPatterns(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"rate limit exceeded", true},
		{"429 too many requests", true},
		{"401 unauthorized", true},
		{"timeout exceeded", true},
		{"connection refused", true},
		{"503 service unavailable", true},
		{"model is overloaded", true},
		{"invalid prompt", false},
		{"content policy violation", false},
		{"malformed request", false},
	}
	for _, tt := range tests {
		if got := IsRetryable(errors.New(tt.err)); got != tt.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestResponseErr_Classification(t *testing.T) {
	ok := &Response{Status: 200, OK: true, ActualProvider: "p"}
	if err := ok.Err(); err != nil {
		t.Fatalf("OK envelope produced error: %v", err)
	}

	missing := &Response{
		Status:         404,
		OK:             false,
		ActualProvider: "ollama",
		Text:           `model "llama9" not found, try pulling it first`,
	}
	kind, _ := KindOf(missing.Err())
	if kind != KindModelUnavailable {
		t.Fatalf("model-missing body classified as %s", kind)
	}

	overflow := &Response{
		Status:         400,
		OK:             false,
		ActualProvider: "anthropic",
		Text:           `{"error":{"type":"invalid_request_error","message":"prompt is too long"}}`,
	}
	kind, _ = KindOf(overflow.Err())
	if kind != KindContextOverflow {
		t.Fatalf("overflow body classified as %s", kind)
	}

	api := &Response{
		Status:         429,
		OK:             false,
		ActualProvider: "openrouter",
		JSON:           map[string]any{"error": map[string]any{"message": "rate limited"}},
	}
	var pe *ProviderError
	if !errors.As(api.Err(), &pe) {
		t.Fatal("expected ProviderError")
	}
	if pe.Kind != KindAPIError || pe.Status != 429 || pe.Message != "rate limited" {
		t.Fatalf("unexpected api error: %+v", pe)
	}

	html := &Response{
		Status:         502,
		OK:             false,
		ActualProvider: "p",
		Text:           "<html>bad gateway</html>",
	}
	kind, _ = KindOf(html.Err())
	if kind != KindMalformedResponse {
		t.Fatalf("non-JSON body classified as %s", kind)
	}
}
