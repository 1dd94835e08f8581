// Package config loads chatcore's configuration through a layered viper
// stack: built-in defaults, then an optional global
// ~/.chatcore/config.yaml, then a project-local ./config.yaml, then
// CHATCORE_-prefixed environment variables, narrowing from broadest to most
// specific exactly as the teacher's gateway config layers its sources.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// RateLimitConfig seeds internal/ratelimit.Limiter.
type RateLimitConfig struct {
	RPM              int  `mapstructure:"rpm"`
	ITPM             int  `mapstructure:"itpm"`
	OTPM             int  `mapstructure:"otpm"`
	QueueWhenLimited bool `mapstructure:"queue_when_limited"`
	MaxQueueSize     int  `mapstructure:"max_queue_size"`
	QueueTimeoutMs   int  `mapstructure:"queue_timeout_ms"`
}

// UsageLimitConfig seeds internal/usage.Tracker's Limits.
type UsageLimitConfig struct {
	MaxInputTokens  int64   `mapstructure:"max_input_tokens"`
	MaxOutputTokens int64   `mapstructure:"max_output_tokens"`
	MaxTotalTokens  int64   `mapstructure:"max_total_tokens"`
	MaxCostUSD      float64 `mapstructure:"max_cost_usd"`
	Window          string  `mapstructure:"window"`
}

// PersistenceConfig toggles the usage-tracker storage adapter.
type PersistenceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LogConfig is the ambient logging surface.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the top-level, fully resolved configuration.
type Config struct {
	APIKey      string            `mapstructure:"api_key"`
	DBPath      string            `mapstructure:"db_path"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	UsageLimit  UsageLimitConfig  `mapstructure:"usage_limit"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Log         LogConfig         `mapstructure:"log"`
}

// DemoMode reports whether no provider credential was supplied — the core
// still exercises the agent loop end to end against a mock stream.
func (c *Config) DemoMode() bool { return c.APIKey == "" }

// Load resolves Config from defaults, global config, project config and env.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	home, err := os.UserHomeDir()
	if err == nil {
		globalPath := filepath.Join(home, ".chatcore")
		v.AddConfigPath(globalPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading global config: %w", err)
			}
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		v.SetConfigFile("config.yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
	}

	v.SetEnvPrefix("CHATCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// api_key commonly arrives unprefixed from the provider's own convention.
	if v.GetString("api_key") == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			v.Set("api_key", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DBPath == "" {
		if home != "" {
			cfg.DBPath = filepath.Join(home, ".chatcore", "chat.db")
		} else {
			cfg.DBPath = "chat.db"
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("db_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("rate_limit.rpm", 60)
	v.SetDefault("rate_limit.itpm", 100000)
	v.SetDefault("rate_limit.otpm", 20000)
	v.SetDefault("rate_limit.queue_when_limited", true)
	v.SetDefault("rate_limit.max_queue_size", 100)
	v.SetDefault("rate_limit.queue_timeout_ms", 60000)

	v.SetDefault("usage_limit.max_input_tokens", 0)
	v.SetDefault("usage_limit.max_output_tokens", 0)
	v.SetDefault("usage_limit.max_total_tokens", 0)
	v.SetDefault("usage_limit.max_cost_usd", 0.0)
	v.SetDefault("usage_limit.window", "day")

	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.key_prefix", "usage")
}
