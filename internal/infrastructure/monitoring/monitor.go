package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor aggregates gateway counters. All counters are atomic; reading
// them never blocks the request path.
type Monitor struct {
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64

	toolCallsTotal   atomic.Uint64
	toolCallsSuccess atomic.Uint64
	toolCallsFailed  atomic.Uint64

	modelCallsTotal atomic.Uint64
	tokensUsed      atomic.Uint64

	promptCacheHits   atomic.Uint64
	promptCacheMisses atomic.Uint64
	semanticCacheHits atomic.Uint64

	eventsDropped  atomic.Uint64
	activeSessions atomic.Int64
	errorsTotal    atomic.Uint64

	requestLatencySum   atomic.Uint64 // nanoseconds
	requestLatencyCount atomic.Uint64
	toolLatencySum      atomic.Uint64
	toolLatencyCount    atomic.Uint64
	modelLatencySum     atomic.Uint64
	modelLatencyCount   atomic.Uint64

	startTime time.Time
	logger    *zap.Logger

	mu           sync.RWMutex
	history      []Snapshot
	historyLimit int
}

// Snapshot is one point-in-time sample for trend views.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestsPerSecond float64   `json:"requestsPerSecond"`
	ToolCallsPerSec   float64   `json:"toolCallsPerSecond"`
	AvgLatencyMs      float64   `json:"avgLatencyMs"`
	ActiveSessions    int64     `json:"activeSessions"`
	MemoryMB          float64   `json:"memoryMB"`
	Goroutines        int       `json:"goroutines"`
}

func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		startTime:    time.Now(),
		logger:       logger.Named("monitor"),
		history:      make([]Snapshot, 0, 100),
		historyLimit: 100,
	}
}

func (m *Monitor) IncRequestTotal()     { m.requestsTotal.Add(1) }
func (m *Monitor) IncRequestSuccess()   { m.requestsSuccess.Add(1) }
func (m *Monitor) IncRequestFailed()    { m.requestsFailed.Add(1) }
func (m *Monitor) IncToolCallTotal()    { m.toolCallsTotal.Add(1) }
func (m *Monitor) IncToolCallSuccess()  { m.toolCallsSuccess.Add(1) }
func (m *Monitor) IncToolCallFailed()   { m.toolCallsFailed.Add(1) }
func (m *Monitor) IncModelCall()        { m.modelCallsTotal.Add(1) }
func (m *Monitor) IncPromptCacheHit()   { m.promptCacheHits.Add(1) }
func (m *Monitor) IncPromptCacheMiss()  { m.promptCacheMisses.Add(1) }
func (m *Monitor) IncSemanticCacheHit() { m.semanticCacheHits.Add(1) }
func (m *Monitor) IncError()            { m.errorsTotal.Add(1) }

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		m.tokensUsed.Add(uint64(n))
	}
}

// SetEventsDropped publishes the current drop total from the event bus
// and audit logger.
func (m *Monitor) SetEventsDropped(n uint64) {
	m.eventsDropped.Store(n)
}

func (m *Monitor) SetActiveSessions(n int64) {
	m.activeSessions.Store(n)
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	m.requestLatencySum.Add(uint64(d.Nanoseconds()))
	m.requestLatencyCount.Add(1)
}

func (m *Monitor) RecordToolLatency(d time.Duration) {
	m.toolLatencySum.Add(uint64(d.Nanoseconds()))
	m.toolLatencyCount.Add(1)
}

func (m *Monitor) RecordModelLatency(d time.Duration) {
	m.modelLatencySum.Add(uint64(d.Nanoseconds()))
	m.modelLatencyCount.Add(1)
}

func avgMs(sum, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count) / 1e6
}

// Stats returns every counter as a flat map for JSON debug endpoints.
func (m *Monitor) Stats() map[string]any {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.startTime)
	reqTotal := m.requestsTotal.Load()

	return map[string]any{
		"uptime_seconds":      uptime.Seconds(),
		"requests_total":      reqTotal,
		"requests_success":    m.requestsSuccess.Load(),
		"requests_failed":     m.requestsFailed.Load(),
		"tool_calls_total":    m.toolCallsTotal.Load(),
		"tool_calls_success":  m.toolCallsSuccess.Load(),
		"tool_calls_failed":   m.toolCallsFailed.Load(),
		"model_calls_total":   m.modelCallsTotal.Load(),
		"tokens_used_total":   m.tokensUsed.Load(),
		"prompt_cache_hits":   m.promptCacheHits.Load(),
		"prompt_cache_misses": m.promptCacheMisses.Load(),
		"semantic_cache_hits": m.semanticCacheHits.Load(),
		"events_dropped":      m.eventsDropped.Load(),
		"active_sessions":     m.activeSessions.Load(),
		"errors_total":        m.errorsTotal.Load(),
		"avg_request_ms":      avgMs(m.requestLatencySum.Load(), m.requestLatencyCount.Load()),
		"avg_tool_ms":         avgMs(m.toolLatencySum.Load(), m.toolLatencyCount.Load()),
		"avg_model_ms":        avgMs(m.modelLatencySum.Load(), m.modelLatencyCount.Load()),
		"memory_mb":           float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":          runtime.NumGoroutine(),
		"rps":                 float64(reqTotal) / uptime.Seconds(),
	}
}

// TakeSnapshot samples current rates into the bounded history ring.
func (m *Monitor) TakeSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.startTime).Seconds()
	snap := Snapshot{
		Timestamp:         time.Now(),
		RequestsPerSecond: float64(m.requestsTotal.Load()) / uptime,
		ToolCallsPerSec:   float64(m.toolCallsTotal.Load()) / uptime,
		AvgLatencyMs:      avgMs(m.requestLatencySum.Load(), m.requestLatencyCount.Load()),
		ActiveSessions:    m.activeSessions.Load(),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snap
}

// History returns a copy of the snapshot ring, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// StartCollector samples snapshots until ctx is cancelled. Run it in its
// own goroutine.
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TakeSnapshot()
		}
	}
}
