package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/infrastructure/eventbus"
)

func TestObserver_CountsBusEvents(t *testing.T) {
	monitor := NewMonitor(nil)
	bus := eventbus.NewInMemoryBus(nil, 64)
	observer := ObserveBus(monitor, bus, func() int64 { return 3 })
	defer observer.Close()

	ctx := context.Background()
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressModelStarted, SessionID: "s1"})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressModelCompleted, SessionID: "s1", DurationMs: 120})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressToolStarted, SessionID: "s1", ToolName: "Read"})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressToolCompleted, SessionID: "s1", ToolName: "Read", DurationMs: 8})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressToolStarted, SessionID: "s1", ToolName: "Bash"})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressToolCompleted, SessionID: "s1", ToolName: "Bash", Error: "exit code 1", DurationMs: 40})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressLoopCompleted, SessionID: "s1", TerminationReason: "natural_completion"})
	bus.Publish(ctx, &entity.ProgressEvent{Type: entity.ProgressError, SessionID: "s1", Error: "provider down"})
	bus.Close() // drains all buffered events

	stats := monitor.Stats()
	checks := map[string]uint64{
		"model_calls_total":  1,
		"tool_calls_total":   2,
		"tool_calls_success": 1,
		"tool_calls_failed":  1,
		"errors_total":       1,
		"events_dropped":     3,
	}
	for key, want := range checks {
		if got := stats[key].(uint64); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
	if stats["avg_tool_ms"].(float64) <= 0 {
		t.Errorf("avg_tool_ms = %v, want > 0", stats["avg_tool_ms"])
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	monitor := NewMonitor(nil)
	monitor.IncRequestTotal()
	monitor.IncRequestSuccess()
	monitor.AddTokensUsed(150)
	monitor.SetActiveSessions(2)

	server := httptest.NewServer(monitor.PrometheusHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"# TYPE modelgate_requests_total counter",
		"modelgate_requests_total 1",
		"modelgate_tokens_used_total 150",
		"modelgate_active_sessions 2",
		"# TYPE modelgate_active_sessions gauge",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMonitor_SnapshotHistoryBounded(t *testing.T) {
	monitor := NewMonitor(nil)
	monitor.historyLimit = 5

	for i := 0; i < 8; i++ {
		monitor.TakeSnapshot()
	}

	history := monitor.History()
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	if !history[0].Timestamp.Before(history[4].Timestamp) && history[0].Timestamp != history[4].Timestamp {
		t.Error("history not oldest-first")
	}
}
