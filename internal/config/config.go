package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Refinement RefinementConfig `yaml:"refinement" mapstructure:"refinement"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Program    ProgramConfig    `yaml:"program" mapstructure:"program"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the metadata store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. Model drafts documents,
// AssessModel runs the hallucination and compliance assessments.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	AssessModel       string  `yaml:"assess_model" mapstructure:"assess_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	AssessMaxTokens   int64   `yaml:"assess_max_tokens" mapstructure:"assess_max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CacheTTL          string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// RetrievalConfig selects the passage provider.
type RetrievalConfig struct {
	Provider string   `yaml:"provider" mapstructure:"provider"`
	TopK     int      `yaml:"top_k" mapstructure:"top_k"`
	Site     string   `yaml:"site" mapstructure:"site"`
	Domains  []string `yaml:"domains" mapstructure:"domains"`
}

// JinaConfig holds Jina Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaPricing             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaPricing holds Jina Search pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// RefinementConfig bounds the draft-evaluate-revise loop.
type RefinementConfig struct {
	MaxIterations    int `yaml:"max_iterations" mapstructure:"max_iterations"`
	QualityThreshold int `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	Epsilon          int `yaml:"epsilon" mapstructure:"epsilon"`
}

// QualityConfig tunes the quality evaluator.
type QualityConfig struct {
	Weights                  QualityWeights `yaml:"weights" mapstructure:"weights"`
	CitationDensityThreshold int            `yaml:"citation_density_threshold" mapstructure:"citation_density_threshold"`
	MaxExcerptChars          int            `yaml:"max_excerpt_chars" mapstructure:"max_excerpt_chars"`
	CitationWindowChars      int            `yaml:"citation_window_chars" mapstructure:"citation_window_chars"`
}

// QualityWeights weights each check in the overall score. They must sum to 1.
type QualityWeights struct {
	Hallucination float64 `yaml:"hallucination" mapstructure:"hallucination"`
	Vague         float64 `yaml:"vague" mapstructure:"vague"`
	Citations     float64 `yaml:"citations" mapstructure:"citations"`
	Compliance    float64 `yaml:"compliance" mapstructure:"compliance"`
	Completeness  float64 `yaml:"completeness" mapstructure:"completeness"`
}

// Sum returns the total of all weights.
func (w QualityWeights) Sum() float64 {
	return w.Hallucination + w.Vague + w.Citations + w.Compliance + w.Completeness
}

// CatalogConfig points at an optional YAML catalog overlay.
type CatalogConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// ResilienceConfig configures the circuit breaker around external services.
type ResilienceConfig struct {
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ProgramConfig configures multi-document program runs.
type ProgramConfig struct {
	MaxConcurrentDocuments int  `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	ReuseExisting          bool `yaml:"reuse_existing" mapstructure:"reuse_existing"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background quality checker.
type MonitoringConfig struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int      `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CostThresholdUSD  float64  `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	Programs          []string `yaml:"programs" mapstructure:"programs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ACQDOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "acqdocs.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.assess_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.assess_max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("retrieval.provider", "none")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("refinement.max_iterations", 3)
	v.SetDefault("refinement.quality_threshold", 85)
	v.SetDefault("refinement.epsilon", 1)
	v.SetDefault("quality.weights.hallucination", 0.30)
	v.SetDefault("quality.weights.vague", 0.15)
	v.SetDefault("quality.weights.citations", 0.20)
	v.SetDefault("quality.weights.compliance", 0.25)
	v.SetDefault("quality.weights.completeness", 0.10)
	v.SetDefault("quality.citation_density_threshold", 20)
	v.SetDefault("quality.max_excerpt_chars", 12000)
	v.SetDefault("quality.citation_window_chars", 240)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("program.max_concurrent_documents", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
