package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultTargetSelections is how many items the agent may pick per briefing.
	DefaultTargetSelections = 5

	// DefaultMaxToolRounds bounds the agent's tool-calling loop.
	DefaultMaxToolRounds = 10

	// DefaultMaxCandidates caps the candidate pool handed to the agent.
	DefaultMaxCandidates = 100
)

// Config holds all configuration for the briefing pipeline.
type Config struct {
	Claude    ClaudeConfig    `mapstructure:"claude"`
	Store     StoreConfig     `mapstructure:"store"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// APIConfig holds HTTP trigger server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max_retries"`
	MaxTokens    int64  `mapstructure:"max_tokens"`
	ComposeModel string `mapstructure:"compose_model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	masked := maskAPIKey(c.APIKey)
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", masked, c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres | memory
	DSN    string `mapstructure:"dsn"`
}

// Neo4jConfig enables the Neo4j knowledge-graph backend when URI is set.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// RedisConfig enables the Redis progress table when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OllamaConfig holds embedding service settings. Empty BaseURL disables embeddings.
type OllamaConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// IngestConfig holds source adapter settings.
type IngestConfig struct {
	LookbackHours   int     `mapstructure:"lookback_hours"`
	Concurrency     int     `mapstructure:"concurrency"`
	MaxQueries      int     `mapstructure:"max_queries"`
	NewsAPIURL      string  `mapstructure:"news_api_url"`
	NewsAPIKey      string  `mapstructure:"news_api_key"`
	NewsRatePerSec  float64 `mapstructure:"news_rate_per_sec"`
	ArxivAPIURL     string  `mapstructure:"arxiv_api_url"`
	ArxivRatePerSec float64 `mapstructure:"arxiv_rate_per_sec"`
	FeedRatePerSec  float64 `mapstructure:"feed_rate_per_sec"`
	MaxResults      int     `mapstructure:"max_results"`
	HTTPTimeoutSecs int     `mapstructure:"http_timeout_secs"`
	// MailboxDir holds saved newsletters as <root>/<address>/*.html.
	MailboxDir string `mapstructure:"mailbox_dir"`
}

// ScoringConfig holds novelty/relevance weights and thresholds.
type ScoringConfig struct {
	KeywordWeight           float64 `mapstructure:"keyword_weight"`
	SemanticWeight          float64 `mapstructure:"semantic_weight"`
	ProvenanceWeight        float64 `mapstructure:"provenance_weight"`
	GoalWeight              float64 `mapstructure:"goal_weight"`
	FeedbackWeight          float64 `mapstructure:"feedback_weight"`
	FreshnessWeight         float64 `mapstructure:"freshness_weight"`
	NoveltyWeight           float64 `mapstructure:"novelty_weight"`
	NoveltyMultiplicative   bool    `mapstructure:"novelty_multiplicative"`
	MinimumThreshold        float64 `mapstructure:"minimum_threshold"`
	NoveltyMinimumThreshold float64 `mapstructure:"novelty_minimum_threshold"`
	MaxCandidates           int     `mapstructure:"max_candidates"`
	FreshnessHalfLifeHours  float64 `mapstructure:"freshness_half_life_hours"`
	KnownConfidence         float64 `mapstructure:"known_confidence"`
}

// AgentConfig holds scoring agent settings.
type AgentConfig struct {
	TargetSelections int `mapstructure:"target_selections"`
	MaxToolRounds    int `mapstructure:"max_tool_rounds"`
	PromptTokenLimit int `mapstructure:"prompt_token_limit"`
}

// KnowledgeConfig holds graph maintenance policy.
type KnowledgeConfig struct {
	ReinforceStep      float64  `mapstructure:"reinforce_step"`
	InitialConfidence  float64  `mapstructure:"initial_confidence"`
	PruneConfidence    float64  `mapstructure:"prune_confidence"`
	StaleDays          int      `mapstructure:"stale_days"`
	GenericTypes       []string `mapstructure:"generic_types"`
	DecayHalfLifeDays  float64  `mapstructure:"decay_half_life_days"`
	GapScanIntervalDay int      `mapstructure:"gap_scan_interval_days"`
}

// BatchConfig holds batch driver settings.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	ProgressTTL int `mapstructure:"progress_ttl_minutes"`
}

// DeliveryConfig selects the delivery collaborator.
type DeliveryConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProgressTTLDuration returns the progress entry lifetime.
func (b BatchConfig) ProgressTTLDuration() time.Duration {
	return time.Duration(b.ProgressTTL) * time.Minute
}

// Lookback returns the ingestion lookback window.
func (i IngestConfig) Lookback() time.Duration {
	return time.Duration(i.LookbackHours) * time.Hour
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".openclaw-briefing"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("OPENCLAW_BRIEFING")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("ingest.news_api_key", "NEWS_API_KEY")
	_ = v.BindEnv("store.driver", "OPENCLAW_BRIEFING_STORE_DRIVER")
	_ = v.BindEnv("store.dsn", "OPENCLAW_BRIEFING_STORE_DSN")
	_ = v.BindEnv("neo4j.uri", "OPENCLAW_BRIEFING_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "OPENCLAW_BRIEFING_NEO4J_PASSWORD")
	_ = v.BindEnv("redis.addr", "OPENCLAW_BRIEFING_REDIS_ADDR")
	_ = v.BindEnv("api.listen_addr", "OPENCLAW_BRIEFING_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "OPENCLAW_BRIEFING_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by built-in defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.compose_model", "")
	v.SetDefault("claude.max_retries", 2)
	v.SetDefault("claude.max_tokens", 2048)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", filepath.Join(homeDir(), ".openclaw-briefing", "briefing.db"))

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ollama.base_url", "")
	v.SetDefault("ollama.model", "nomic-embed-text")
	v.SetDefault("ollama.dimension", 768)

	v.SetDefault("ingest.lookback_hours", 48)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_queries", 12)
	v.SetDefault("ingest.news_api_url", "https://newsapi.org/v2/everything")
	v.SetDefault("ingest.news_rate_per_sec", 1.0)
	v.SetDefault("ingest.arxiv_api_url", "https://export.arxiv.org/api/query")
	v.SetDefault("ingest.arxiv_rate_per_sec", 0.33)
	v.SetDefault("ingest.feed_rate_per_sec", 2.0)
	v.SetDefault("ingest.max_results", 20)
	v.SetDefault("ingest.http_timeout_secs", 20)
	v.SetDefault("ingest.mailbox_dir", "")

	v.SetDefault("scoring.keyword_weight", 0.20)
	v.SetDefault("scoring.semantic_weight", 0.15)
	v.SetDefault("scoring.provenance_weight", 0.15)
	v.SetDefault("scoring.goal_weight", 0.15)
	v.SetDefault("scoring.feedback_weight", 0.05)
	v.SetDefault("scoring.freshness_weight", 0.10)
	v.SetDefault("scoring.novelty_weight", 0.20)
	v.SetDefault("scoring.novelty_multiplicative", false)
	v.SetDefault("scoring.minimum_threshold", 0.15)
	v.SetDefault("scoring.novelty_minimum_threshold", 0.2)
	v.SetDefault("scoring.max_candidates", DefaultMaxCandidates)
	v.SetDefault("scoring.freshness_half_life_hours", 36.0)
	v.SetDefault("scoring.known_confidence", 0.6)

	v.SetDefault("agent.target_selections", DefaultTargetSelections)
	v.SetDefault("agent.max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("agent.prompt_token_limit", 12000)

	v.SetDefault("knowledge.reinforce_step", 0.1)
	v.SetDefault("knowledge.initial_confidence", 0.5)
	v.SetDefault("knowledge.prune_confidence", 0.3)
	v.SetDefault("knowledge.stale_days", 60)
	v.SetDefault("knowledge.generic_types", []string{"concept", "term"})
	v.SetDefault("knowledge.decay_half_life_days", 90.0)
	v.SetDefault("knowledge.gap_scan_interval_days", 14)

	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.progress_ttl_minutes", 60)

	v.SetDefault("delivery.webhook_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must not be empty for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, memory")
	}
	if c.Agent.TargetSelections <= 0 || c.Agent.TargetSelections > 5 {
		return fmt.Errorf("agent.target_selections must be between 1 and 5")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent.max_tool_rounds must be greater than 0")
	}
	if c.Scoring.MaxCandidates <= 0 {
		return fmt.Errorf("scoring.max_candidates must be greater than 0")
	}
	for name, w := range map[string]float64{
		"keyword_weight":    c.Scoring.KeywordWeight,
		"semantic_weight":   c.Scoring.SemanticWeight,
		"provenance_weight": c.Scoring.ProvenanceWeight,
		"goal_weight":       c.Scoring.GoalWeight,
		"feedback_weight":   c.Scoring.FeedbackWeight,
		"freshness_weight":  c.Scoring.FreshnessWeight,
		"novelty_weight":    c.Scoring.NoveltyWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("scoring.%s must be between 0 and 1", name)
		}
	}
	if c.Scoring.MinimumThreshold < 0 || c.Scoring.MinimumThreshold > 1 {
		return fmt.Errorf("scoring.minimum_threshold must be between 0 and 1")
	}
	if c.Scoring.NoveltyMinimumThreshold < 0 || c.Scoring.NoveltyMinimumThreshold > 1 {
		return fmt.Errorf("scoring.novelty_minimum_threshold must be between 0 and 1")
	}
	if c.Knowledge.ReinforceStep <= 0 || c.Knowledge.ReinforceStep > 1 {
		return fmt.Errorf("knowledge.reinforce_step must be in (0, 1]")
	}
	if c.Knowledge.InitialConfidence < 0 || c.Knowledge.InitialConfidence > 1 {
		return fmt.Errorf("knowledge.initial_confidence must be between 0 and 1")
	}
	if c.Knowledge.StaleDays < 0 {
		return fmt.Errorf("knowledge.stale_days must be >= 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be greater than 0")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be greater than 0")
	}
	if c.Ingest.LookbackHours <= 0 {
		return fmt.Errorf("ingest.lookback_hours must be greater than 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
