package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure. The agent loop maps kinds to
// termination reasons and HTTP statuses; the failover router uses them to
// decide whether trying another backend can help.
type ErrorKind string

const (
	// KindProviderUnreachable: the backend could not be reached at all
	// (dial failure, DNS, timeout before headers).
	KindProviderUnreachable ErrorKind = "provider_unreachable"
	// KindModelUnavailable: the backend answered but cannot serve the
	// requested model (not pulled, not deployed, unknown name).
	KindModelUnavailable ErrorKind = "model_unavailable"
	// KindAPIError: the backend returned a structured error payload.
	KindAPIError ErrorKind = "api_error"
	// KindMalformedResponse: the backend returned something that is not
	// the expected JSON shape.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindContextOverflow: the backend rejected the request because the
	// payload exceeds the model's context window.
	KindContextOverflow ErrorKind = "context_overflow"
)

// ProviderError is the typed error every client in this package fails with.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int // upstream HTTP status when one exists
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s [%s %d]: %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error to the status the gateway should answer with.
func (e *ProviderError) HTTPStatus() int {
	switch e.Kind {
	case KindProviderUnreachable, KindModelUnavailable:
		return http.StatusServiceUnavailable
	case KindContextOverflow:
		return http.StatusBadRequest
	case KindMalformedResponse:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusBadGateway
	}
}

// NewUnreachable wraps a transport-level failure.
func NewUnreachable(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindProviderUnreachable, Err: cause}
}

// NewModelUnavailable reports that the backend cannot serve the model.
func NewModelUnavailable(provider, model, detail string) *ProviderError {
	msg := fmt.Sprintf("model %q unavailable", model)
	if detail != "" {
		msg += ": " + detail
	}
	return &ProviderError{Provider: provider, Kind: KindModelUnavailable, Message: msg}
}

// NewAPIError reports a structured upstream error.
func NewAPIError(provider string, status int, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindAPIError, Status: status, Message: message}
}

// NewMalformed reports an unparseable upstream body.
func NewMalformed(provider string, status int, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformedResponse, Status: status, Err: cause}
}

// KindOf extracts the error kind, when err wraps a ProviderError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// modelMissingMarkers are upstream phrasings that mean "the model itself is
// the problem", across Ollama, OpenAI-compatible and Anthropic backends.
var modelMissingMarkers = []string{
	"model not found",
	"not found, try pulling",
	"does not exist",
	"model_not_found",
	"unknown model",
	"no such model",
	"is not supported",
}

// looksLikeModelMissing reports whether an upstream error body blames the
// requested model rather than the request.
func looksLikeModelMissing(body string) bool {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "model") {
		return false
	}
	for _, marker := range modelMissingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// overflowMarkers are upstream phrasings, across Anthropic, OpenAI-compatible
// and Gemini backends, that mean the prompt blew the context window.
var overflowMarkers = []string{
	"context length exceeded",
	"maximum context length",
	"request_too_large",
	"request exceeds the maximum size",
	"prompt is too long",
	"exceeds model context window",
	"context overflow",
	"input token count exceeds",
}

// looksLikeContextOverflow reports whether an upstream error body blames the
// request size rather than the request content.
func looksLikeContextOverflow(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range overflowMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// retryablePatterns marks upstream failures where another backend or a later
// retry can plausibly succeed. Auth failures are included: a key rejected by
// one provider says nothing about the next one in the chain.
var retryablePatterns = []string{
	"rate limit",
	"rate_limit",
	"429",
	"too many requests",
	"quota exceeded",
	"authentication",
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"unavailable",
	"503",
	"502",
	"bad gateway",
	"internal server error",
	"500",
	"overloaded",
	"capacity",
}

// IsRetryable reports whether the failover router should try the next
// provider. Unreachable backends and missing models are always retryable;
// malformed request rejections (400s) are not, and neither is a context
// overflow — the oversized payload follows the request to every backend.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindProviderUnreachable, KindModelUnavailable:
			return true
		case KindContextOverflow, KindMalformedResponse:
			return false
		case KindAPIError:
			if pe.Status == http.StatusTooManyRequests || pe.Status >= 500 {
				return true
			}
			if pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden {
				return true
			}
			return false
		}
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
