package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Keys are flat environment
// names (MODEL_PROVIDER, TIER_SIMPLE, POLICY_MAX_STEPS); the nesting
// below maps onto them through the "." to "_" replacer, so
// `tool_execution.mode` is the TOOL_EXECUTION_MODE variable.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// ModelProvider selects the primary backend: anthropic, openai,
	// openrouter, gemini or ollama.
	ModelProvider string `mapstructure:"model_provider"`

	Anthropic  EndpointConfig `mapstructure:"anthropic"`
	OpenAI     EndpointConfig `mapstructure:"openai"`
	OpenRouter EndpointConfig `mapstructure:"openrouter"`
	Gemini     EndpointConfig `mapstructure:"gemini"`
	Ollama     OllamaConfig   `mapstructure:"ollama"`

	ToolExecution          ToolExecutionConfig `mapstructure:"tool_execution"`
	SmartToolSelectionMode string              `mapstructure:"smart_tool_selection_mode"`
	Tier                   TierConfig          `mapstructure:"tier"`
	Policy                 PolicyConfig        `mapstructure:"policy"`

	// Routing pipeline knobs beyond the threshold mode.
	UseWeightedScoring       bool `mapstructure:"use_weighted_scoring"`
	OllamaMaxToolsForRouting int  `mapstructure:"ollama_max_tools_for_routing"`
	CloudFallbackEnabled     bool `mapstructure:"cloud_fallback_enabled"`
	CostOptimization         bool `mapstructure:"cost_optimization"`

	HistoryCompression      HistoryCompressionConfig `mapstructure:"history_compression"`
	TokenBudget             TokenBudgetConfig        `mapstructure:"token_budget"`
	Toon                    ToonConfig               `mapstructure:"toon"`
	Memory                  MemoryConfig             `mapstructure:"memory"`
	MinimalToolDescriptions bool                     `mapstructure:"minimal_tool_descriptions"`

	PromptCache   PromptCacheConfig   `mapstructure:"prompt_cache"`
	SemanticCache SemanticCacheConfig `mapstructure:"semantic_cache"`

	Progress ProgressConfig `mapstructure:"progress"`
	Session  SessionConfig  `mapstructure:"session"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`

	// WorkspaceDir roots all file tools. Empty means the process cwd.
	WorkspaceDir string `mapstructure:"workspace_dir"`

	// DataDir holds the price cache, session database and audit logs.
	DataDir string `mapstructure:"data_dir"`

	// SearxngURL enables the WebSearch tool when set.
	SearxngURL string `mapstructure:"searxng_url"`

	// PromptComponentsDir overlays operator prompt components.
	PromptComponentsDir string `mapstructure:"prompt_components_dir"`

	ModelsConfigPath string `mapstructure:"models_config_path"`
	ToolOutputLimit  int    `mapstructure:"tool_output_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// EndpointConfig is one hosted provider's endpoint and credential pair.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type OllamaConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	CloudEndpoint    string `mapstructure:"cloud_endpoint"`
	Model            string `mapstructure:"model"`
	APIKey           string `mapstructure:"api_key"`
	StartupTimeoutMS int    `mapstructure:"startup_timeout_ms"`
}

// ToolExecutionConfig routes tool-bearing turns to a dedicated provider.
type ToolExecutionConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	Mode        string `mapstructure:"mode"` // server | client | passthrough
	CompareMode bool   `mapstructure:"compare_mode"`
}

// TierConfig pins a "provider:model" target per complexity tier.
// Unset tiers fall back to the model catalog's preferences.
type TierConfig struct {
	Simple    string `mapstructure:"simple"`
	Medium    string `mapstructure:"medium"`
	Complex   string `mapstructure:"complex"`
	Reasoning string `mapstructure:"reasoning"`
}

// ProviderModel is a parsed tier target.
type ProviderModel struct {
	Provider string
	Model    string
}

// Targets returns the explicitly pinned tiers, keyed simple, medium,
// complex, reasoning. Malformed values are dropped.
func (t TierConfig) Targets() map[string]ProviderModel {
	out := make(map[string]ProviderModel, 4)
	for tier, raw := range map[string]string{
		"simple":    t.Simple,
		"medium":    t.Medium,
		"complex":   t.Complex,
		"reasoning": t.Reasoning,
	} {
		if pm, ok := ParseProviderModel(raw); ok {
			out[tier] = pm
		}
	}
	return out
}

// Secrets lists every configured credential value so the logger can
// scrub them from emitted lines.
func (c *Config) Secrets() []string {
	var out []string
	for _, v := range []string{
		c.Anthropic.APIKey,
		c.OpenAI.APIKey,
		c.OpenRouter.APIKey,
		c.Gemini.APIKey,
		c.Ollama.APIKey,
	} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseProviderModel splits "provider:model". Model names may themselves
// contain colons (ollama tags like qwen3:8b), so only the first colon
// separates.
func ParseProviderModel(s string) (ProviderModel, bool) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return ProviderModel{}, false
	}
	return ProviderModel{Provider: s[:idx], Model: s[idx+1:]}, true
}

type PolicyConfig struct {
	MaxSteps               int      `mapstructure:"max_steps"`
	MaxDurationMS          int      `mapstructure:"max_duration_ms"`
	MaxToolCallsPerRequest int      `mapstructure:"max_tool_calls_per_request"`
	ToolLoopThreshold      int      `mapstructure:"tool_loop_threshold"`
	AllowTools             []string `mapstructure:"allow_tools"`
	DenyTools              []string `mapstructure:"deny_tools"`
	BlockedPatterns        []string `mapstructure:"blocked_patterns"`
}

type HistoryCompressionConfig struct {
	Threshold  int `mapstructure:"threshold"`
	KeepRecent int `mapstructure:"keep_recent"`
}

type TokenBudgetConfig struct {
	Reserve int `mapstructure:"reserve"`
}

type ToonConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MinBytes int  `mapstructure:"min_bytes"`
}

type MemoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TopK       int    `mapstructure:"top_k"`
	EmbedModel string `mapstructure:"embed_model"`
	EmbedURL   string `mapstructure:"embed_url"`
	StorePath  string `mapstructure:"store_path"`
	Dir        string `mapstructure:"dir"` // markdown memory files loaded at startup
}

type PromptCacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Size    int  `mapstructure:"size"`
	TTLMS   int  `mapstructure:"ttl_ms"`
}

type SemanticCacheConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Backend   string  `mapstructure:"backend"` // memory | lancedb
	Threshold float64 `mapstructure:"threshold"`
	TTLMS     int     `mapstructure:"ttl_ms"`
	Path      string  `mapstructure:"path"`
}

type ProgressConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`     // optional HTTP sink for events
	WSPort  int    `mapstructure:"ws_port"` // 0 serves the feed on the main port
}

type SessionConfig struct {
	DBDriver string `mapstructure:"db_driver"` // sqlite | postgres
	DBDSN    string `mapstructure:"db_dsn"`
}

type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load builds the configuration from defaults, an optional
// configs/gateway.yaml, and the environment. Environment wins.
func Load() (*Config, error) {
	return LoadFrom("configs/gateway.yaml")
}

// LoadFrom is Load with an explicit config file path. A missing file is
// fine; defaults and environment still apply.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	normalise(&cfg)
	return &cfg, nil
}

// normalise canonicalises enum-valued fields so the rest of the code can
// compare them directly.
func normalise(cfg *Config) {
	cfg.ModelProvider = strings.ToLower(strings.TrimSpace(cfg.ModelProvider))
	cfg.ToolExecution.Mode = strings.ToLower(strings.TrimSpace(cfg.ToolExecution.Mode))
	switch cfg.ToolExecution.Mode {
	case "server", "client", "passthrough":
	default:
		cfg.ToolExecution.Mode = "server"
	}
	cfg.SmartToolSelectionMode = strings.ToLower(strings.TrimSpace(cfg.SmartToolSelectionMode))
	switch cfg.SmartToolSelectionMode {
	case "aggressive", "heuristic", "conservative":
	default:
		cfg.SmartToolSelectionMode = "heuristic"
	}
	cfg.Session.DBDriver = strings.ToLower(strings.TrimSpace(cfg.Session.DBDriver))
	switch cfg.Session.DBDriver {
	case "sqlite", "postgres":
	default:
		cfg.Session.DBDriver = "sqlite"
	}
	cfg.SemanticCache.Backend = strings.ToLower(strings.TrimSpace(cfg.SemanticCache.Backend))
	switch cfg.SemanticCache.Backend {
	case "memory", "lancedb":
	default:
		cfg.SemanticCache.Backend = "memory"
	}
	if !cfg.Toon.Enabled {
		cfg.Toon.MinBytes = 0
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)

	v.SetDefault("model_provider", "ollama")

	v.SetDefault("anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.api_key", "")

	v.SetDefault("ollama.endpoint", "http://localhost:11434")
	v.SetDefault("ollama.cloud_endpoint", "")
	v.SetDefault("ollama.model", "qwen3:8b")
	v.SetDefault("ollama.api_key", "")
	v.SetDefault("ollama.startup_timeout_ms", 0)

	v.SetDefault("tool_execution.provider", "")
	v.SetDefault("tool_execution.model", "")
	v.SetDefault("tool_execution.mode", "server")
	v.SetDefault("tool_execution.compare_mode", false)

	v.SetDefault("smart_tool_selection_mode", "heuristic")
	v.SetDefault("use_weighted_scoring", false)
	v.SetDefault("ollama_max_tools_for_routing", 4)
	v.SetDefault("cloud_fallback_enabled", true)
	v.SetDefault("cost_optimization", false)

	v.SetDefault("tier.simple", "")
	v.SetDefault("tier.medium", "")
	v.SetDefault("tier.complex", "")
	v.SetDefault("tier.reasoning", "")

	v.SetDefault("policy.max_steps", 6)
	v.SetDefault("policy.max_duration_ms", 120000)
	v.SetDefault("policy.max_tool_calls_per_request", 12)
	v.SetDefault("policy.tool_loop_threshold", 3)
	v.SetDefault("policy.allow_tools", []string{})
	v.SetDefault("policy.deny_tools", []string{})
	v.SetDefault("policy.blocked_patterns", []string{})

	v.SetDefault("history_compression.threshold", 15)
	v.SetDefault("history_compression.keep_recent", 10)
	v.SetDefault("token_budget.reserve", 1024)
	v.SetDefault("toon.enabled", true)
	v.SetDefault("toon.min_bytes", 4096)
	v.SetDefault("minimal_tool_descriptions", false)

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.embed_model", "")
	v.SetDefault("memory.embed_url", "")
	v.SetDefault("memory.store_path", "data/memory")
	v.SetDefault("memory.dir", "")

	v.SetDefault("prompt_cache.enabled", true)
	v.SetDefault("prompt_cache.size", 1000)
	v.SetDefault("prompt_cache.ttl_ms", 300000)

	v.SetDefault("semantic_cache.enabled", false)
	v.SetDefault("semantic_cache.backend", "memory")
	v.SetDefault("semantic_cache.threshold", 0.95)
	v.SetDefault("semantic_cache.ttl_ms", 3600000)
	v.SetDefault("semantic_cache.path", "data/semantic")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.url", "")
	v.SetDefault("progress.ws_port", 0)

	v.SetDefault("session.db_driver", "sqlite")
	v.SetDefault("session.db_dsn", "data/modelgate.db")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", "data/audit")
	v.SetDefault("audit.max_bytes", int64(100*1024*1024))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.pretty", false)

	v.SetDefault("workspace_dir", "")
	v.SetDefault("data_dir", "data")
	v.SetDefault("searxng_url", "")
	v.SetDefault("prompt_components_dir", "")
	v.SetDefault("models_config_path", "configs/models.yaml")
	v.SetDefault("tool_output_limit", 30000)
}
