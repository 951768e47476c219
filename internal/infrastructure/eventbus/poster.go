package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

const postTimeout = 5 * time.Second

// HTTPPoster forwards every event to an external collector URL as JSON.
// Posts are fire-and-forget; failures log at debug level so a dead
// collector cannot flood the log.
type HTTPPoster struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPPoster(url string, logger *zap.Logger) *HTTPPoster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPoster{
		url:    url,
		client: &http.Client{Timeout: postTimeout},
		logger: logger.Named("progress.poster"),
	}
}

// Attach subscribes the poster to every event on bus and returns the
// unsubscribe func.
func (p *HTTPPoster) Attach(bus Bus) func() {
	return bus.Subscribe(Wildcard, p.post)
}

// post ignores the event's context on purpose: the originating request
// may already be done by the time the event dispatches.
func (p *HTTPPoster) post(_ context.Context, event *entity.ProgressEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("progress post failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
