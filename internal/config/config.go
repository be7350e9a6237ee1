// Package config loads application configuration via viper and initializes
// the global logger.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Score     ScoreConfig     `yaml:"score" mapstructure:"score"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PlacesConfig holds Google Places API settings.
type PlacesConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds scoring model settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// QueueConfig configures the in-process broker shared by both stages.
type QueueConfig struct {
	VisibilityTimeoutSecs int `yaml:"visibility_timeout_secs" mapstructure:"visibility_timeout_secs"`
	MaxReceiveCount       int `yaml:"max_receive_count" mapstructure:"max_receive_count"`
	Depth                 int `yaml:"depth" mapstructure:"depth"`
}

// IngestConfig configures the places ingestion worker.
type IngestConfig struct {
	PageSize       int `yaml:"page_size" mapstructure:"page_size"`
	MaxRetries     int `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMs      int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	MaxBackoffMs   int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	DefaultResults int `yaml:"default_results" mapstructure:"default_results"`
}

// ScrapeConfig configures the scrape dispatcher and tasks.
type ScrapeConfig struct {
	MaxConcurrency   int  `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	BatchSize        int  `yaml:"batch_size" mapstructure:"batch_size"`
	BatchWaitMs      int  `yaml:"batch_wait_ms" mapstructure:"batch_wait_ms"`
	TaskTimeoutSecs  int  `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	GraceWindowSecs  int  `yaml:"grace_window_secs" mapstructure:"grace_window_secs"`
	RenderEnabled    bool `yaml:"render_enabled" mapstructure:"render_enabled"`
	RenderTimeoutSec int  `yaml:"render_timeout_secs" mapstructure:"render_timeout_secs"`
	MaxPageBytes     int  `yaml:"max_page_bytes" mapstructure:"max_page_bytes"`
}

// ScoreConfig configures the scoring dispatcher and tasks.
type ScoreConfig struct {
	MaxConcurrency  int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchWaitMs     int     `yaml:"batch_wait_ms" mapstructure:"batch_wait_ms"`
	TaskTimeoutSecs int     `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.rate_per_second", 10)
	v.SetDefault("places.timeout_secs", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("queue.visibility_timeout_secs", 900)
	v.SetDefault("queue.max_receive_count", 3)
	v.SetDefault("queue.depth", 4096)
	v.SetDefault("ingest.page_size", 20)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.backoff_ms", 500)
	v.SetDefault("ingest.max_backoff_ms", 10000)
	v.SetDefault("ingest.default_results", 60)
	v.SetDefault("scrape.max_concurrency", 8)
	v.SetDefault("scrape.batch_size", 4)
	v.SetDefault("scrape.batch_wait_ms", 2000)
	v.SetDefault("scrape.task_timeout_secs", 120)
	v.SetDefault("scrape.grace_window_secs", 300)
	v.SetDefault("scrape.render_enabled", false)
	v.SetDefault("scrape.render_timeout_secs", 25)
	v.SetDefault("scrape.max_page_bytes", 512*1024)
	v.SetDefault("score.max_concurrency", 2)
	v.SetDefault("score.batch_size", 2)
	v.SetDefault("score.batch_wait_ms", 2000)
	v.SetDefault("score.task_timeout_secs", 60)
	v.SetDefault("score.rate_per_second", 1)
	v.SetDefault("server.port", 8080)
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
