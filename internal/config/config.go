// Package config loads application configuration from file and environment
// and owns global logger initialization.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/crm-cleanse/internal/cost"
	"github.com/sells-group/crm-cleanse/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	HubSpot   HubSpotConfig   `yaml:"hubspot" mapstructure:"hubspot"`
	Metering  MeteringConfig  `yaml:"metering" mapstructure:"metering"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// HubSpotConfig holds record-store client settings. The access token itself
// arrives per request; only transport tuning lives here.
type HubSpotConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	// Token is only used by the CLI commands; the server takes the token
	// from the request headers.
	Token string `yaml:"token" mapstructure:"token"`
}

// MeteringConfig holds the credit-ledger service settings. Disabled when
// BaseURL is empty.
type MeteringConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
}

// StoreConfig configures the run audit-trail backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RulesConfig points at an optional YAML file of default rule text merged
// under per-request rules.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// BatchConfig configures the batch CLI.
type BatchConfig struct {
	MaxConcurrentRecords int `yaml:"max_concurrent_records" mapstructure:"max_concurrent_records"`
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
	v.SetEnvPrefix("CLEANSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.rate_per_second", 9)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cleanse.db")
	v.SetDefault("batch.max_concurrent_records", 5)
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

	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate checks the configuration needed for the given mode: "serve" for
// the HTTP API, "cli" for the one-off pipeline commands.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key is required")
	}
	if c.Batch.MaxConcurrentRecords < 1 || c.Batch.MaxConcurrentRecords > 50 {
		missing = append(missing, "batch.max_concurrent_records must be between 1 and 50")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required for postgres")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "cli":
		if c.HubSpot.Token == "" {
			missing = append(missing, "hubspot.token is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
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
