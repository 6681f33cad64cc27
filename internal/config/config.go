// Package config loads application settings from file, environment, and
// defaults, and owns global logger setup.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Serve     ServeConfig     `yaml:"serve" mapstructure:"serve"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" mapstructure:"dsn"`       // postgres connection string
	Path   string `yaml:"path" mapstructure:"path"`     // sqlite database file
}

// FetchConfig configures dataset downloads.
type FetchConfig struct {
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds Notion API credentials and the runs database ID.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	DatabaseID string `yaml:"database_id" mapstructure:"database_id"`
}

// ServeConfig configures the read API server.
type ServeConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Load reads configuration from .etwfe.yaml (working directory, then home),
// ETWFE_* environment variables, and built-in defaults, in rising precedence
// of env over file over defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName(".etwfe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	// Environment
	v.SetEnvPrefix("ETWFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "etwfe.db")
	v.SetDefault("fetch.timeout", 30)
	v.SetDefault("fetch.user_agent", "etwfe/1.0")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("serve.addr", ":8080")

	// Empty defaults register the keys so env-only values unmarshal.
	v.SetDefault("store.dsn", "")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")

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

// Validate checks the settings a command mode depends on. Modes: "store"
// for anything touching the run store, "fetch", "publish", "explain",
// "serve". Problems are accumulated so one run reports every missing key.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "store":
		problems = c.storeProblems()
	case "fetch":
		if c.Fetch.Timeout <= 0 {
			problems = append(problems, "fetch.timeout must be > 0")
		}
		if c.Fetch.UserAgent == "" {
			problems = append(problems, "fetch.user_agent is required")
		}
	case "publish":
		problems = c.storeProblems()
		if c.Notion.Token == "" {
			problems = append(problems, "notion.token is required")
		}
		if c.Notion.DatabaseID == "" {
			problems = append(problems, "notion.database_id is required")
		}
	case "explain":
		problems = c.storeProblems()
		if c.Anthropic.APIKey == "" {
			problems = append(problems, "anthropic.api_key is required")
		}
		if c.Anthropic.Model == "" {
			problems = append(problems, "anthropic.model is required")
		}
	case "serve":
		problems = c.storeProblems()
		if c.Serve.Addr == "" {
			problems = append(problems, "serve.addr is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	return problems
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
