// Package config loads and validates browser cluster configuration via
// Viper, with environment variable overrides and typed defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Browser BrowserConfig `mapstructure:"browser"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ClusterConfig governs the scheduler's pool sizing and queue spilling.
type ClusterConfig struct {
	PoolSize            int    `mapstructure:"pool_size"`
	TimeToLive          int    `mapstructure:"time_to_live"`
	QueueSpillThreshold int    `mapstructure:"queue_spill_threshold"`
	QueueSpillDir       string `mapstructure:"queue_spill_dir"`
}

// BrowserConfig configures the chromedp-backed browser driver.
type BrowserConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BROWSERCLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("cluster.pool_size", 6)
	v.SetDefault("cluster.time_to_live", 10)
	v.SetDefault("cluster.queue_spill_threshold", 256)
	v.SetDefault("browser.user_agent", "browsercluster/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("browser.max_concurrency", 4)
	v.SetDefault("browser.domain_qps", 2.0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cluster.PoolSize <= 0 {
		return fmt.Errorf("cluster.pool_size must be > 0")
	}
	if c.Cluster.TimeToLive <= 0 {
		return fmt.Errorf("cluster.time_to_live must be > 0")
	}
	if c.Browser.MaxConcurrency <= 0 {
		return fmt.Errorf("browser.max_concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// NavTimeout converts the configured seconds into a time.Duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}
