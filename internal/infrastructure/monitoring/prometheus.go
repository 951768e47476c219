package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// PrometheusHandler serves the Prometheus text exposition format without
// client_golang. Mount it at /metrics.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.startTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  any
		}{
			{"modelgate_requests_total", "Requests processed", "counter", m.requestsTotal.Load()},
			{"modelgate_requests_success_total", "Requests completed successfully", "counter", m.requestsSuccess.Load()},
			{"modelgate_requests_failed_total", "Requests that failed", "counter", m.requestsFailed.Load()},

			{"modelgate_tool_calls_total", "Tool calls executed", "counter", m.toolCallsTotal.Load()},
			{"modelgate_tool_calls_success_total", "Tool calls that succeeded", "counter", m.toolCallsSuccess.Load()},
			{"modelgate_tool_calls_failed_total", "Tool calls that failed", "counter", m.toolCallsFailed.Load()},

			{"modelgate_model_calls_total", "Upstream model invocations", "counter", m.modelCallsTotal.Load()},
			{"modelgate_tokens_used_total", "Tokens consumed across providers", "counter", m.tokensUsed.Load()},

			{"modelgate_prompt_cache_hits_total", "Prompt cache hits", "counter", m.promptCacheHits.Load()},
			{"modelgate_prompt_cache_misses_total", "Prompt cache misses", "counter", m.promptCacheMisses.Load()},
			{"modelgate_semantic_cache_hits_total", "Semantic cache hits", "counter", m.semanticCacheHits.Load()},

			{"modelgate_errors_total", "Errors encountered", "counter", m.errorsTotal.Load()},
			{"modelgate_events_dropped", "Progress and audit events dropped on overflow", "gauge", m.eventsDropped.Load()},
			{"modelgate_active_sessions", "Sessions currently in memory", "gauge", m.activeSessions.Load()},
			{"modelgate_uptime_seconds", "Process uptime", "gauge", uptime},

			{"modelgate_memory_alloc_bytes", "Heap bytes allocated", "gauge", memStats.Alloc},
			{"modelgate_memory_sys_bytes", "Memory obtained from the OS", "gauge", memStats.Sys},
			{"modelgate_goroutines", "Live goroutines", "gauge", runtime.NumGoroutine()},
			{"modelgate_gc_pause_total_ns", "Cumulative GC pause", "counter", memStats.PauseTotalNs},
			{"modelgate_gc_cycles_total", "Completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		writeAvg(w, "modelgate_request_latency_avg_ms", "Average request latency in milliseconds",
			m.requestLatencySum.Load(), m.requestLatencyCount.Load())
		writeAvg(w, "modelgate_tool_latency_avg_ms", "Average tool execution latency in milliseconds",
			m.toolLatencySum.Load(), m.toolLatencyCount.Load())
		writeAvg(w, "modelgate_model_latency_avg_ms", "Average model invocation latency in milliseconds",
			m.modelLatencySum.Load(), m.modelLatencyCount.Load())
	})
}

func writeAvg(w http.ResponseWriter, name, help string, sum, count uint64) {
	if count == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %f\n\n", name, avgMs(sum, count))
}
