package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/memory"
)

const (
	embedTimeout = 30 * time.Second
	probeTimeout = 15 * time.Second
)

// OllamaEmbedder turns text into vectors through the Ollama /api/embed
// endpoint. The vector dimension is probed once at construction so stores
// can size themselves before any real traffic.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	logger    *zap.Logger
}

var _ memory.EmbeddingProvider = (*OllamaEmbedder)(nil)

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder probes model for its vector dimension and returns a
// ready embedder. A probe failure means the daemon or the model is
// absent; callers fall back to the hash embedder.
func NewOllamaEmbedder(baseURL, model string, logger *zap.Logger) (*OllamaEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: embedTimeout},
		logger:  logger.Named("embedding"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	probe, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probe embedding dimension for %s: %w", model, err)
	}
	e.dimension = len(probe)

	e.logger.Info("ollama embedder ready",
		zap.String("model", model),
		zap.Int("dimension", e.dimension))
	return e, nil
}

// Embed returns the vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.post(ctx, text)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one call; /api/embed accepts array input.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.post(ctx, texts)
}

// Dimension returns the probed vector width.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// post sends one embed call with a single retry on transport errors. The
// retry builds a fresh request; the first one's body is already spent.
func (e *OllamaEmbedder) post(ctx context.Context, input any) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := e.send(ctx, payload)
	if err != nil {
		e.logger.Warn("embed call failed, retrying once", zap.Error(err))
		if resp, err = e.send(ctx, payload); err != nil {
			return nil, fmt.Errorf("embed call failed after retry: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embed endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(decoded.Embeddings) == 0 {
		return nil, fmt.Errorf("embed endpoint returned no vectors")
	}
	return decoded.Embeddings, nil
}

func (e *OllamaEmbedder) send(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.client.Do(req)
}
