package application

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/application/usecase"
	"github.com/modelgate/modelgate/internal/domain/contextshape"
	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/memory"
	"github.com/modelgate/modelgate/internal/domain/parser"
	"github.com/modelgate/modelgate/internal/domain/router"
	"github.com/modelgate/modelgate/internal/domain/service"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
	"github.com/modelgate/modelgate/internal/infrastructure/cache"
	"github.com/modelgate/modelgate/internal/infrastructure/config"
	"github.com/modelgate/modelgate/internal/infrastructure/embedding"
	"github.com/modelgate/modelgate/internal/infrastructure/eventbus"
	"github.com/modelgate/modelgate/internal/infrastructure/llm"
	_ "github.com/modelgate/modelgate/internal/infrastructure/llm/anthropic" // register provider factory
	_ "github.com/modelgate/modelgate/internal/infrastructure/llm/gemini"    // register provider factory
	"github.com/modelgate/modelgate/internal/infrastructure/llm/ollama"
	_ "github.com/modelgate/modelgate/internal/infrastructure/llm/openai" // register provider factory
	"github.com/modelgate/modelgate/internal/infrastructure/monitoring"
	"github.com/modelgate/modelgate/internal/infrastructure/persistence"
	"github.com/modelgate/modelgate/internal/infrastructure/pricing"
	"github.com/modelgate/modelgate/internal/infrastructure/prompt"
	"github.com/modelgate/modelgate/internal/infrastructure/sandbox"
	toolpkg "github.com/modelgate/modelgate/internal/infrastructure/tool"
	"github.com/modelgate/modelgate/internal/infrastructure/toon"
	"github.com/modelgate/modelgate/internal/infrastructure/vectorstore"
	httpapi "github.com/modelgate/modelgate/internal/interfaces/http"
	"github.com/modelgate/modelgate/internal/interfaces/websocket"
	"github.com/modelgate/modelgate/pkg/safego"
)

// Stock endpoints. A hosted family with a different base URL counts as
// configured even without a key (local proxies terminate auth themselves).
const (
	stockAnthropicURL  = "https://api.anthropic.com"
	stockOpenAIURL     = "https://api.openai.com/v1"
	stockOpenRouterURL = "https://openrouter.ai/api/v1"
	stockGeminiURL     = "https://generativelanguage.googleapis.com"
)

const collectorInterval = 30 * time.Second

// App is the composition root: it wires configuration, storage, provider
// clients, the agent loop and the serving interfaces, and owns their
// lifecycle.
type App struct {
	config *config.Config
	logger *zap.Logger

	db       *gorm.DB
	sessions *persistence.SessionStore
	audit    *persistence.AuditLogger

	failover  *llm.Failover
	providers []llm.Provider
	watcher   *config.Watcher
	prices    *pricing.Registry

	parsers      *parser.Registry
	toolRegistry *domaintool.Registry
	toolPolicy   *domaintool.Policy
	executor     *toolpkg.Executor
	taskTool     *toolpkg.TaskTool

	embedder memory.EmbeddingProvider
	memories *memory.Manager
	windows  *contextshape.WindowResolver
	shaper   *contextshape.Shaper

	// Swapped whole on catalog reloads so in-flight requests keep a
	// consistent view.
	smartRouter atomic.Pointer[router.Router]

	promptCache   *cache.PromptCache
	semanticCache *cache.SemanticCache

	bus          *eventbus.InMemoryBus
	busObserver  *monitoring.Observer
	detachPoster func()
	monitor      *monitoring.Monitor

	assembler    *prompt.Assembler
	orchestrator *service.Orchestrator
	subagents    *subagentRunner

	process *usecase.ProcessMessage

	hub        *websocket.Hub
	httpServer *httpapi.Server

	shuttingDown   atomic.Bool
	stopBackground context.CancelFunc
}

// NewApp wires every component. Construction is staged so a failure
// reports which layer refused to come up.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := app.initProviders(); err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}
	if err := app.initCatalog(); err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	if err := app.initTools(); err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}
	if err := app.initShaping(); err != nil {
		return nil, fmt.Errorf("init shaping: %w", err)
	}
	if err := app.initRouting(); err != nil {
		return nil, fmt.Errorf("init routing: %w", err)
	}
	if err := app.initCaches(); err != nil {
		return nil, fmt.Errorf("init caches: %w", err)
	}
	if err := app.initEvents(); err != nil {
		return nil, fmt.Errorf("init events: %w", err)
	}
	if err := app.initLoop(); err != nil {
		return nil, fmt.Errorf("init loop: %w", err)
	}
	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("init application services: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("init interfaces: %w", err)
	}

	return app, nil
}

func (app *App) initStorage() error {
	app.logger.Info("initializing storage")

	if app.config.DataDir != "" {
		if err := os.MkdirAll(app.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := persistence.Open(app.config.Session.DBDriver, app.config.Session.DBDSN)
	if err != nil {
		return err
	}
	app.db = db
	app.sessions = persistence.NewSessionStore(persistence.NewGormSessionRepository(db), app.logger)

	if app.config.Audit.Enabled {
		audit, err := persistence.NewAuditLogger(app.config.Audit.Dir, app.config.Audit.MaxBytes, app.logger)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		app.audit = audit
	}

	return nil
}

func (app *App) initProviders() error {
	app.logger.Info("initializing providers")

	app.failover = llm.NewFailover(app.logger)
	for _, pc := range app.providerConfigs() {
		p, err := llm.CreateProvider(pc, app.logger)
		if err != nil {
			app.logger.Error("provider construction failed",
				zap.String("name", pc.Name),
				zap.String("type", pc.Type),
				zap.Error(err))
			continue
		}
		app.failover.AddProvider(p)
		app.providers = append(app.providers, p)
	}

	if len(app.providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	app.logger.Info("providers ready", zap.Int("count", len(app.providers)))
	return nil
}

// providerConfigs derives the provider set from the flat configuration.
// The primary sorts first so the failover chain prefers it; Ollama is
// always present as the local fallback.
func (app *App) providerConfigs() []llm.ProviderConfig {
	cfg := app.config

	out := []llm.ProviderConfig{{
		Name:         "ollama",
		Type:         "ollama",
		BaseURL:      cfg.Ollama.Endpoint,
		APIKey:       cfg.Ollama.APIKey,
		CloudBaseURL: cfg.Ollama.CloudEndpoint,
		ToolModel:    ollamaToolModel(cfg),
	}}

	hosted := []struct {
		name, typ, stock string
		ep               config.EndpointConfig
	}{
		{"anthropic", "anthropic", stockAnthropicURL, cfg.Anthropic},
		{"openai", "openai", stockOpenAIURL, cfg.OpenAI},
		{"openrouter", "openai", stockOpenRouterURL, cfg.OpenRouter},
		{"gemini", "gemini", stockGeminiURL, cfg.Gemini},
	}
	for _, h := range hosted {
		if !hostedConfigured(h.ep, h.stock) {
			continue
		}
		out = append(out, llm.ProviderConfig{
			Name:    h.name,
			Type:    h.typ,
			BaseURL: h.ep.BaseURL,
			APIKey:  h.ep.APIKey,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name == cfg.ModelProvider && out[j].Name != cfg.ModelProvider
	})
	return out
}

func hostedConfigured(ep config.EndpointConfig, stockURL string) bool {
	return ep.APIKey != "" || (ep.BaseURL != "" && ep.BaseURL != stockURL)
}

// ollamaToolModel is the dedicated tool model injected by the Ollama
// client, set only when Ollama is the tool-execution provider.
func ollamaToolModel(cfg *config.Config) string {
	if cfg.ToolExecution.Provider == "ollama" {
		return cfg.ToolExecution.Model
	}
	return ""
}

func (app *App) initCatalog() error {
	app.logger.Info("initializing model catalog")

	watcher, err := config.NewWatcher(
		app.config.ModelsConfigPath,
		app.config.DataDir,
		app.config.Tier.Targets(),
		app.logger,
	)
	if err != nil {
		return err
	}
	app.watcher = watcher
	app.prices = pricing.NewRegistry(app.config.DataDir, app.logger)

	return nil
}

func (app *App) initTools() error {
	app.logger.Info("initializing tools")

	app.embedder = app.buildEmbedder()
	if app.config.Memory.Enabled {
		app.memories = memory.NewManager(app.buildMemoryStore(), app.embedder)
	}

	sbx, err := sandbox.NewProcessSandbox(sandbox.DefaultConfig(), app.logger)
	if err != nil {
		app.logger.Warn("sandbox unavailable, Bash tool disabled", zap.Error(err))
		sbx = nil
	}
	if sbx != nil && app.config.WorkspaceDir != "" {
		if err := sbx.SetWorkDir(app.config.WorkspaceDir); err != nil {
			app.logger.Warn("sandbox workdir rejected", zap.Error(err))
		}
	}

	app.toolRegistry = domaintool.NewRegistry()
	app.taskTool = toolpkg.RegisterBuiltins(app.toolRegistry, toolpkg.Deps{
		WorkspaceRoot: app.config.WorkspaceDir,
		Sandbox:       sbx,
		SearchURL:     app.config.SearxngURL,
		Memory:        app.memories,
		Logger:        app.logger,
	})

	app.toolPolicy = domaintool.NewPolicy(
		app.toolRegistry,
		app.config.Policy.AllowTools,
		app.config.Policy.DenyTools,
		app.config.Policy.MaxToolCallsPerRequest,
	)
	app.executor = toolpkg.NewExecutor(app.toolRegistry, app.toolPolicy, app.logger)

	// The local client injects the builtin set when a payload binds no
	// tools but a dedicated tool model is configured.
	if p, ok := app.failover.Provider("ollama"); ok {
		if op, ok := p.(*ollama.Provider); ok {
			op.SetToolInjection(func() []entity.Tool {
				return toEntityTools(app.toolRegistry.List())
			})
		}
	}

	return nil
}

// buildEmbedder prefers the configured Ollama embedding endpoint and
// falls back to the deterministic hash embedder, which needs no network.
func (app *App) buildEmbedder() memory.EmbeddingProvider {
	mc := app.config.Memory
	if mc.EmbedURL != "" && mc.EmbedModel != "" {
		e, err := embedding.NewOllamaEmbedder(mc.EmbedURL, mc.EmbedModel, app.logger)
		if err == nil {
			return e
		}
		app.logger.Warn("embedding endpoint unavailable, using hash embedder",
			zap.String("url", mc.EmbedURL), zap.Error(err))
	}
	return memory.NewHashEmbedder(0)
}

func (app *App) buildMemoryStore() memory.VectorStore {
	path := app.config.Memory.StorePath
	if path != "" {
		store, err := vectorstore.New(path, "memories", app.embedder.Dimension(), app.logger)
		if err == nil {
			return store
		}
		app.logger.Warn("vector store unavailable, using in-memory store",
			zap.String("path", path), zap.Error(err))
	}
	return memory.NewInMemoryVectorStore()
}

func (app *App) initShaping() error {
	app.logger.Info("initializing context shaping")

	app.windows = contextshape.NewWindowResolver()
	app.seedWindows(app.watcher.Snapshot().Catalog)
	for _, p := range app.providers {
		if prober, ok := p.(contextshape.Prober); ok {
			app.windows.RegisterProber(p.Name(), prober)
		}
	}

	shcfg := &contextshape.Config{
		CompressionThreshold:    app.config.HistoryCompression.Threshold,
		KeepRecentTurns:         app.config.HistoryCompression.KeepRecent,
		MemoryTopK:              app.config.Memory.TopK,
		MinimalToolDescriptions: app.config.MinimalToolDescriptions,
		ToonMinBytes:            app.config.Toon.MinBytes,
		TokenReserve:            app.config.TokenBudget.Reserve,
	}
	var memories contextshape.MemorySource
	if app.memories != nil {
		memories = app.memories
	}
	app.shaper = contextshape.NewShaper(shcfg, app.windows, memories, toon.New(), app.logger)

	return nil
}

func (app *App) seedWindows(catalog *config.Catalog) {
	for _, p := range catalog.Providers {
		for _, m := range p.Models {
			app.windows.Seed(p.Name, m.Name, m.ContextWindow)
		}
	}
}

func (app *App) initRouting() error {
	app.logger.Info("initializing smart router")

	app.smartRouter.Store(app.buildRouter(app.watcher.Snapshot()))
	app.watcher.OnReload(func(snap *config.Snapshot) {
		app.seedWindows(snap.Catalog)
		app.smartRouter.Store(app.buildRouter(snap))
	})
	app.watcher.OnPriceChange(func() {
		if err := app.prices.Load(context.Background()); err != nil {
			app.logger.Warn("price reload failed", zap.Error(err))
		}
	})

	return nil
}

func (app *App) buildRouter(snap *config.Snapshot) *router.Router {
	cfg := app.config
	local := cfg.Ollama.Model

	// Unknown local models are assumed tool-capable; the catalog only
	// vetoes models it actually describes.
	supportsTools := true
	if _, _, known := snap.Catalog.Resolve(local); known {
		supportsTools = snap.Catalog.SupportsTools(local)
	}

	return router.NewRouter(&router.Config{
		Mode:                     cfg.SmartToolSelectionMode,
		UseWeightedScoring:       cfg.UseWeightedScoring,
		OllamaMaxToolsForRouting: cfg.OllamaMaxToolsForRouting,
		CloudFallbackEnabled:     cfg.CloudFallbackEnabled,
		CostOptimization:         cfg.CostOptimization,
		LocalProvider:            "ollama",
		LocalModel:               local,
		LocalModelSupportsTools:  supportsTools,
		TierOverrides:            tierOverrides(snap.TierTargets),
		Preferred:                preferredModels(snap.Catalog),
	}, app.prices, app.logger)
}

func tierOverrides(targets map[string]config.ProviderModel) map[entity.Tier]router.ProviderModel {
	out := make(map[entity.Tier]router.ProviderModel, len(targets))
	for name, pm := range targets {
		if tier, ok := tierByName(name); ok {
			out[tier] = router.ProviderModel{Provider: pm.Provider, Model: pm.Model}
		}
	}
	return out
}

// preferredModels flattens the catalog into per-provider tier preferences;
// file order decides ties.
func preferredModels(catalog *config.Catalog) map[string]map[entity.Tier]string {
	out := make(map[string]map[entity.Tier]string)
	for _, p := range catalog.Providers {
		for _, m := range p.Models {
			tier, ok := tierByName(m.Tier)
			if !ok {
				continue
			}
			byTier := out[p.Name]
			if byTier == nil {
				byTier = make(map[entity.Tier]string, 4)
				out[p.Name] = byTier
			}
			if _, taken := byTier[tier]; !taken {
				byTier[tier] = m.Name
			}
		}
	}
	return out
}

func tierByName(name string) (entity.Tier, bool) {
	switch name {
	case "simple":
		return entity.TierSimple, true
	case "medium":
		return entity.TierMedium, true
	case "complex":
		return entity.TierComplex, true
	case "reasoning":
		return entity.TierReasoning, true
	}
	return "", false
}

func (app *App) initCaches() error {
	cfg := app.config

	if cfg.PromptCache.Enabled {
		app.promptCache = cache.NewPromptCache(
			cfg.PromptCache.Size,
			time.Duration(cfg.PromptCache.TTLMS)*time.Millisecond,
		)
	}

	if cfg.SemanticCache.Enabled {
		var store memory.VectorStore
		if cfg.SemanticCache.Backend == "lancedb" {
			s, err := vectorstore.New(cfg.SemanticCache.Path, "semantic_cache", app.embedder.Dimension(), app.logger)
			if err != nil {
				app.logger.Warn("semantic cache store unavailable, using in-memory store", zap.Error(err))
			} else {
				store = s
			}
		}
		if store == nil {
			store = memory.NewInMemoryVectorStore()
		}
		app.semanticCache = cache.NewSemanticCache(
			store,
			app.embedder,
			float32(cfg.SemanticCache.Threshold),
			time.Duration(cfg.SemanticCache.TTLMS)*time.Millisecond,
			app.logger,
		)
	}

	app.logger.Info("caches ready",
		zap.Bool("prompt", app.promptCache != nil),
		zap.Bool("semantic", app.semanticCache != nil))
	return nil
}

func (app *App) initEvents() error {
	app.logger.Info("initializing progress bus")

	app.bus = eventbus.NewInMemoryBus(app.logger, 1024)
	app.monitor = monitoring.NewMonitor(app.logger)

	drops := []func() int64{app.bus.Dropped, app.sessions.Dropped}
	if app.audit != nil {
		drops = append(drops, app.audit.Dropped)
	}
	app.busObserver = monitoring.ObserveBus(app.monitor, app.bus, drops...)

	if app.config.Progress.URL != "" {
		app.detachPoster = eventbus.NewHTTPPoster(app.config.Progress.URL, app.logger).Attach(app.bus)
	}

	return nil
}

func (app *App) initLoop() error {
	app.logger.Info("initializing agent loop")
	cfg := app.config

	app.parsers = parser.NewRegistry()

	app.assembler = prompt.NewAssembler(app.logger)
	if cfg.PromptComponentsDir != "" {
		if err := app.assembler.LoadOverlay(cfg.PromptComponentsDir); err != nil {
			app.logger.Warn("prompt overlay not loaded",
				zap.String("dir", cfg.PromptComponentsDir), zap.Error(err))
		}
	}

	invoker := newModelInvoker(app.failover, app.parsers, app.monitor, app.logger)

	subProvider, subModel := cfg.ToolExecution.Provider, cfg.ToolExecution.Model
	if subProvider == "" {
		subProvider = cfg.ModelProvider
		subModel = app.defaultModelFor(subProvider)
	}
	app.subagents = newSubagentRunner(
		app.toolRegistry,
		app.assembler,
		subProvider,
		subModel,
		cfg.WorkspaceDir,
		app.logger,
	)

	app.orchestrator = service.NewOrchestrator(service.Deps{
		Invoker:   invoker,
		Shaper:    app.shaper,
		Tools:     app.executor,
		Policy:    app.toolPolicy,
		Subagents: app.subagents,
		Events:    app.bus,
		Shutdown:  app.shuttingDown.Load,
		Logger:    app.logger,
	}, service.Config{
		Limits: service.Limits{
			MaxSteps:     cfg.Policy.MaxSteps,
			MaxDuration:  time.Duration(cfg.Policy.MaxDurationMS) * time.Millisecond,
			MaxToolCalls: cfg.Policy.MaxToolCallsPerRequest,
		},
		ToolLoopThreshold: cfg.Policy.ToolLoopThreshold,
		ToolProvider:      cfg.ToolExecution.Provider,
		ToolModel:         cfg.ToolExecution.Model,
		ToolExecutionMode: cfg.ToolExecution.Mode,
		CompareMode:       cfg.ToolExecution.CompareMode,
		ToolInjection: func(provider string) bool {
			return provider == "ollama" && ollamaToolModel(cfg) != ""
		},
	})

	app.subagents.Bind(app.orchestrator)
	app.taskTool.SetRunner(app.subagents)

	return nil
}

// defaultModelFor picks the model a provider serves when nothing pins
// one: the configured local model for Ollama, the medium-tier target or
// first catalog entry for hosted families.
func (app *App) defaultModelFor(provider string) string {
	if provider == "" || provider == "ollama" {
		return app.config.Ollama.Model
	}
	snap := app.watcher.Snapshot()
	if pm, ok := snap.TierTargets["medium"]; ok && pm.Provider == provider {
		return pm.Model
	}
	for _, p := range snap.Catalog.Providers {
		if p.Name == provider && len(p.Models) > 0 {
			return p.Models[0].Name
		}
	}
	return ""
}

func (app *App) initApplicationServices() error {
	app.logger.Info("initializing application services")

	app.process = usecase.NewProcessMessage(usecase.Deps{
		Orchestrator: app.orchestrator,
		Router:       app.smartRouter.Load,
		Sessions:     app.sessions,
		PromptCache:  app.promptCache,
		Semantic:     app.semanticCache,
		Audit:        app.audit,
		Monitor:      app.monitor,
		Logger:       app.logger,
	})

	return nil
}

func (app *App) initInterfaces() error {
	app.logger.Info("initializing interfaces")

	app.hub = websocket.NewHub(app.bus, app.logger)

	app.httpServer = httpapi.NewServer(httpapi.Config{
		Host: app.config.Server.Host,
		Port: app.config.Server.Port,
	}, httpapi.Deps{
		Process:  app.process,
		Sessions: app.sessions,
		Failover: app.failover,
		Monitor:  app.monitor,
		Audit:    app.audit,
		Hub:      app.hub,
		Logger:   app.logger,
	})

	return nil
}

// Start brings up background work and the HTTP listener. It returns once
// the listener goroutine is launched.
func (app *App) Start(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel

	if err := app.watcher.Start(bg); err != nil {
		app.logger.Warn("catalog watching disabled", zap.Error(err))
	}
	safego.GoCtx(bg, app.logger, "metrics-collector", func(ctx context.Context) {
		app.monitor.StartCollector(ctx, collectorInterval)
	})
	safego.GoCtx(bg, app.logger, "progress-hub", app.hub.Run)
	safego.Go(app.logger, "price-loader", func() {
		if err := app.prices.Load(bg); err != nil {
			app.logger.Warn("price registry load failed", zap.Error(err))
		}
	})

	if app.memories != nil && app.config.Memory.Dir != "" {
		loader := memory.NewMarkdownLoader(app.memories, app.logger)
		if n, err := loader.LoadDir(bg, app.config.Memory.Dir); err != nil {
			app.logger.Warn("memory dir not loaded", zap.String("dir", app.config.Memory.Dir), zap.Error(err))
		} else if n > 0 {
			app.logger.Info("memories loaded", zap.Int("entries", n))
		}
	}

	app.warmLocalModel(bg)

	return app.httpServer.Start(ctx)
}

// warmLocalModel blocks startup until the local model answers, bounded
// by the configured timeout. Zero disables the wait.
func (app *App) warmLocalModel(ctx context.Context) {
	timeout := time.Duration(app.config.Ollama.StartupTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		return
	}
	p, ok := app.failover.Provider("ollama")
	if !ok {
		return
	}
	op, ok := p.(*ollama.Provider)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := op.WaitForModel(wctx, app.config.Ollama.Model); err != nil {
		app.logger.Warn("local model not ready", zap.String("model", app.config.Ollama.Model), zap.Error(err))
	}
}

// Stop drains in reverse construction order: listener first so no new
// runs start, then the loop's collaborators, storage last.
func (app *App) Stop(ctx context.Context) error {
	app.shuttingDown.Store(true)

	var firstErr error
	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if app.stopBackground != nil {
		app.stopBackground()
	}
	if app.detachPoster != nil {
		app.detachPoster()
	}
	if app.busObserver != nil {
		app.busObserver.Close()
	}
	if app.bus != nil {
		app.bus.Close()
	}
	if app.audit != nil {
		app.audit.Close()
	}
	if app.sessions != nil {
		app.sessions.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return firstErr
}

// Logger exposes the process logger for the command layer.
func (app *App) Logger() *zap.Logger { return app.logger }
