package llm

import (
	"context"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"go.uber.org/zap"
)

// Failover settings. A provider/model pair that fails retryably is cooled
// down so the next requests skip it without paying for the timeout again.
const (
	DefaultCooldownDuration = 5 * time.Minute
	MaxFailoverAttempts     = 3
)

// Failover walks the registered providers for each call: the routed
// provider first, then the rest in registration order. Per-provider
// circuit breakers, per-model cooldowns and latency stats decide who gets
// skipped. Non-retryable failures surface immediately without failover.
type Failover struct {
	mu        sync.RWMutex
	providers []Provider
	stats     map[string]*providerStats
	breakers  map[string]*CircuitBreaker
	cooldowns map[string]time.Time // provider/model → cooldown end

	cooldownDur time.Duration
	logger      *zap.Logger
}

type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewFailover creates an empty failover chain.
func NewFailover(logger *zap.Logger) *Failover {
	return &Failover{
		stats:       make(map[string]*providerStats),
		breakers:    make(map[string]*CircuitBreaker),
		cooldowns:   make(map[string]time.Time),
		cooldownDur: DefaultCooldownDuration,
		logger:      logger.Named("llm.failover"),
	}
}

// AddProvider appends a provider to the chain. Order matters: earlier
// providers are preferred fallbacks.
func (f *Failover) AddProvider(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, p)
	f.stats[p.Name()] = &providerStats{}
	f.breakers[p.Name()] = NewCircuitBreaker(5, 30*time.Second)
	f.logger.Info("provider registered",
		zap.String("name", p.Name()),
		zap.Strings("models", p.Models()),
	)
}

// Provider returns the named provider, when registered.
func (f *Failover) Provider(name string) (Provider, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// SetCooldownDuration overrides the cooldown applied to failing models.
func (f *Failover) SetCooldownDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.cooldownDur = d
	}
}

// Invoke calls the preferred provider, falling through the chain on
// retryable failures. The returned envelope's ActualProvider names
// whoever answered. Non-2xx envelopes classified as non-retryable are
// returned as-is for the loop to record.
func (f *Failover) Invoke(ctx context.Context, preferred string, req *entity.MessagesRequest, opts InvokeOptions) (*Response, error) {
	candidates := f.orderedCandidates(preferred)

	var lastErr error
	supported := 0
	attempts := 0

	for _, p := range candidates {
		if !p.SupportsModel(req.Model) {
			continue
		}
		supported++

		if !p.IsAvailable(ctx) {
			f.logger.Debug("provider unavailable, skipping", zap.String("provider", p.Name()))
			continue
		}
		breaker := f.breaker(p.Name())
		if breaker != nil && !breaker.Allow() {
			f.logger.Debug("provider circuit open, skipping", zap.String("provider", p.Name()))
			continue
		}
		if f.inCooldown(p.Name(), req.Model) {
			f.logger.Debug("model cooling down, skipping",
				zap.String("provider", p.Name()),
				zap.String("model", req.Model),
			)
			continue
		}
		if attempts >= MaxFailoverAttempts {
			break
		}
		attempts++

		start := time.Now()
		resp, err := p.Invoke(ctx, req, opts)
		latency := time.Since(start)
		f.recordCall(p.Name(), latency, err != nil)

		if err != nil {
			if breaker != nil {
				breaker.RecordFailure()
			}
			if !IsRetryable(err) {
				f.logger.Warn("non-retryable provider error",
					zap.String("provider", p.Name()),
					zap.Error(err),
				)
				return nil, err
			}
			lastErr = err
			f.setCooldown(p.Name(), req.Model)
			f.logger.Warn("provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
			continue
		}

		if !resp.OK {
			respErr := resp.Err()
			if respErr != nil && IsRetryable(respErr) {
				if breaker != nil {
					breaker.RecordFailure()
				}
				lastErr = respErr
				f.setCooldown(p.Name(), req.Model)
				f.logger.Warn("upstream error, trying next",
					zap.String("provider", p.Name()),
					zap.Int("status", resp.Status),
					zap.Error(respErr),
				)
				continue
			}
			// The request itself was rejected; another backend will not
			// change that. The loop records it as an error turn.
			return resp, nil
		}

		if breaker != nil {
			breaker.RecordSuccess()
		}
		f.clearCooldown(p.Name(), req.Model)
		f.logger.Debug("provider succeeded",
			zap.String("provider", p.Name()),
			zap.String("model", req.Model),
			zap.Duration("latency", latency),
		)
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if supported == 0 {
		return nil, NewModelUnavailable("gateway", req.Model, "no registered provider serves this model")
	}
	return nil, &ProviderError{
		Provider: "gateway",
		Kind:     KindProviderUnreachable,
		Message:  "no provider available (circuits open or models cooling down)",
	}
}

// orderedCandidates snapshots the chain with the preferred provider first.
func (f *Failover) orderedCandidates(preferred string) []Provider {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Provider, 0, len(f.providers))
	for _, p := range f.providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range f.providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}

func (f *Failover) breaker(name string) *CircuitBreaker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.breakers[name]
}

func (f *Failover) recordCall(name string, latency time.Duration, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stats[name]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if failed {
			s.FailureCount++
		}
	}
}

func cooldownKey(provider, model string) string {
	return provider + "/" + model
}

func (f *Failover) inCooldown(provider, model string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	end, ok := f.cooldowns[cooldownKey(provider, model)]
	return ok && time.Now().Before(end)
}

func (f *Failover) setCooldown(provider, model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[cooldownKey(provider, model)] = time.Now().Add(f.cooldownDur)
}

func (f *Failover) clearCooldown(provider, model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cooldowns, cooldownKey(provider, model))
}

// ClearAllCooldowns drops every cooldown, e.g. after a config reload.
func (f *Failover) ClearAllCooldowns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns = make(map[string]time.Time)
}

// ProviderStatus describes one provider's health for the status surfaces.
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}

// ListProviders reports status, stats and breaker position per provider.
func (f *Failover) ListProviders(ctx context.Context) []ProviderStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(f.providers))
	for _, p := range f.providers {
		ps := ProviderStatus{
			Name:      p.Name(),
			Models:    p.Models(),
			Available: p.IsAvailable(ctx),
		}
		if s, ok := f.stats[p.Name()]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := f.breakers[p.Name()]; ok {
			ps.CircuitState = cb.State().String()
		}
		out = append(out, ps)
	}
	return out
}
