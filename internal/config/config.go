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
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Shopify   ShopifyConfig   `yaml:"shopify" mapstructure:"shopify"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the staging database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// SchemaConfig locates the collection schema file.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings for extraction.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxBatchSize int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	NoBatch      bool   `yaml:"no_batch" mapstructure:"no_batch"`
}

// ShopifyConfig holds Shopify Admin API credentials.
type ShopifyConfig struct {
	StoreDomain string  `yaml:"store_domain" mapstructure:"store_domain"`
	AccessToken string  `yaml:"access_token" mapstructure:"access_token"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// PipelineConfig configures extraction and apply concurrency.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ReviewConfig configures review export defaults.
type ReviewConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// ServerConfig configures the review API server.
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
	v.SetEnvPrefix("PIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pim.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("schema.path", "collections.yaml")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.max_batch_size", 100)
	v.SetDefault("shopify.rate_limit", 2)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("review.threshold", 0.6)
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

// Validate checks that the configuration required for a command mode is
// present. Modes: extract (Anthropic API), apply (Shopify API), serve.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	switch mode {
	case "extract":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	case "apply":
		if c.Shopify.StoreDomain == "" {
			missing = append(missing, "shopify.store_domain is required")
		}
		if c.Shopify.AccessToken == "" {
			missing = append(missing, "shopify.access_token is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "base":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 50 {
		missing = append(missing, "pipeline.concurrency must be between 1 and 50")
	}
	if c.Review.Threshold < 0 || c.Review.Threshold > 1 {
		missing = append(missing, "review.threshold must be between 0 and 1")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
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
