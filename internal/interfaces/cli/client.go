package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Agentic runs hold the request open across several model and tool
// steps, so the chat timeout is generous.
const (
	chatTimeout  = 5 * time.Minute
	queryTimeout = 10 * time.Second
)

// Client talks to a running gateway over its public HTTP surface.
type Client struct {
	base  string
	chat  *http.Client
	query *http.Client
}

// NewClient builds a client for the gateway at base, e.g.
// "http://127.0.0.1:8787".
func NewClient(base string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		chat:  &http.Client{Timeout: chatTimeout},
		query: &http.Client{Timeout: queryTimeout},
	}
}

// ChatReply is one messages response plus the routing metadata the
// gateway exposes in its decision headers.
type ChatReply struct {
	Status int
	Body   *entity.MessagesResponse

	// Set instead of Body when the gateway answered with an error
	// envelope.
	ErrorType    string
	ErrorMessage string

	RequestID string
	Provider  string
	Model     string
	Tier      string
	Method    string
	Score     string
	Cache     string
	Warning   string
	Duration  time.Duration
}

// Failed reports whether the gateway answered with an error envelope.
func (r *ChatReply) Failed() bool { return r.Body == nil }

// Messages posts one non-streaming request, correlating it to sessionID
// through the x-session-id header.
func (c *Client) Messages(ctx context.Context, req *entity.MessagesRequest, sessionID string) (*ChatReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set("x-session-id", sessionID)
	}

	start := time.Now()
	resp, err := c.chat.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	reply := &ChatReply{
		Status:    resp.StatusCode,
		RequestID: resp.Header.Get("X-Request-ID"),
		Provider:  resp.Header.Get("X-Provider"),
		Model:     resp.Header.Get("X-Model"),
		Tier:      resp.Header.Get("X-Tier"),
		Method:    resp.Header.Get("X-Routing-Method"),
		Score:     resp.Header.Get("X-Complexity-Score"),
		Cache:     resp.Header.Get("X-Cache"),
		Warning:   resp.Header.Get("X-Agent-Loop-Warning"),
		Duration:  time.Since(start),
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		reply.ErrorType, reply.ErrorMessage = decodeErrorEnvelope(data)
		return reply, nil
	}

	var body entity.MessagesResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	reply.Body = &body
	return reply, nil
}

func decodeErrorEnvelope(data []byte) (errType, message string) {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Hint    string `json:"hint"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Type == "" {
		return "api_error", strings.TrimSpace(string(data))
	}
	message = envelope.Error.Message
	if envelope.Error.Hint != "" {
		message += " (" + envelope.Error.Hint + ")"
	}
	return envelope.Error.Type, message
}

// ProviderHealth mirrors one provider entry of GET /health.
type ProviderHealth struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}

// HealthReply is the GET /health body.
type HealthReply struct {
	Status         string           `json:"status"`
	Time           int64            `json:"time"`
	ActiveSessions int              `json:"active_sessions"`
	Providers      []ProviderHealth `json:"providers"`
}

// Health fetches gateway and provider status.
func (c *Client) Health(ctx context.Context) (*HealthReply, error) {
	var out HealthReply
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionSummary is one row of the session index.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Ephemeral bool      `json:"ephemeral"`
	Turns     int       `json:"turns"`
}

// SessionIndex is the GET /debug/sessions body.
type SessionIndex struct {
	Count    int              `json:"count"`
	Sessions []SessionSummary `json:"sessions"`
}

// Sessions lists the gateway's live sessions.
func (c *Client) Sessions(ctx context.Context) (*SessionIndex, error) {
	var out SessionIndex
	if err := c.getJSON(ctx, "/debug/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionDetail is the GET /debug/session body.
type SessionDetail struct {
	SessionSummary
	Metadata map[string]any `json:"metadata"`
	History  []entity.Turn  `json:"history"`
}

// Session fetches one session's full history snapshot.
func (c *Client) Session(ctx context.Context, id string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.getJSON(ctx, "/debug/session?id="+url.QueryEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProgressWSURL derives the progress feed address from the base URL.
// session narrows the feed to one conversation when non-empty.
func (c *Client) ProgressWSURL(session string) string {
	ws := c.base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	ws += "/v1/progress/ws"
	if session != "" {
		ws += "?session=" + url.QueryEscape(session)
	}
	return ws
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.query.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		errType, message := decodeErrorEnvelope(data)
		return fmt.Errorf("%s: %s", errType, message)
	}
	return json.Unmarshal(data, out)
}
