// Package config loads and validates tabsync configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the tabsync service.
type Config struct {
	API struct {
		Host           string   `mapstructure:"host"`
		Port           int      `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		// JWTSecret verifies bearer tokens minted by the external auth
		// collaborator; the engine only reads identity claims from them.
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		PoolSize int           `mapstructure:"pool_size"`
		DeltaTTL time.Duration `mapstructure:"delta_ttl"`
	} `mapstructure:"redis"`

	// Sync tunables are deliberately configuration, not contract: the
	// reconcile interval and retained-log bound trade memory and traffic
	// against reconnect-replay coverage.
	Sync struct {
		ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
		DeltaLogLimit     int           `mapstructure:"delta_log_limit"`
		RetryLimit        int           `mapstructure:"retry_limit"`
		SnapshotWorkers   int           `mapstructure:"snapshot_workers"`
		SnapshotQueue     int           `mapstructure:"snapshot_queue"`
		SendBuffer        int           `mapstructure:"send_buffer"`
		PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	} `mapstructure:"sync"`

	Notifications struct {
		Enabled    bool              `mapstructure:"enabled"`
		WebhookURL string            `mapstructure:"webhook_url"`
		Method     string            `mapstructure:"method"`
		Headers    map[string]string `mapstructure:"headers"`
		Timeout    time.Duration     `mapstructure:"timeout"`
	} `mapstructure:"notifications"`

	Logging struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// setDefaults registers defaults for every tunable.
func setDefaults() {
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.allowed_origins", []string{"*"})
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.jwt_secret", "")

	viper.SetDefault("sqlite.path", "./data/tabsync.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.delta_ttl", 30*time.Minute)

	viper.SetDefault("sync.reconcile_interval", 2*time.Minute)
	viper.SetDefault("sync.delta_log_limit", 64)
	viper.SetDefault("sync.retry_limit", 3)
	viper.SetDefault("sync.snapshot_workers", 4)
	viper.SetDefault("sync.snapshot_queue", 256)
	viper.SetDefault("sync.send_buffer", 256)
	viper.SetDefault("sync.pong_timeout", 60*time.Second)

	viper.SetDefault("notifications.enabled", false)
	viper.SetDefault("notifications.webhook_url", "")
	viper.SetDefault("notifications.method", "POST")
	viper.SetDefault("notifications.timeout", 5*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
}

// Load reads configuration from the given file (optional), environment
// variables prefixed TABSYNC_ and the defaults, in that priority order.
func Load(path string) (*Config, error) {
	viper.Reset()
	setDefaults()

	viper.SetEnvPrefix("TABSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port %d", c.API.Port)
	}
	if c.Sync.ReconcileInterval <= 0 {
		return fmt.Errorf("sync.reconcile_interval must be positive, got %s", c.Sync.ReconcileInterval)
	}
	if c.Sync.DeltaLogLimit <= 0 {
		return fmt.Errorf("sync.delta_log_limit must be positive, got %d", c.Sync.DeltaLogLimit)
	}
	if c.Sync.RetryLimit < 0 {
		return fmt.Errorf("sync.retry_limit must not be negative, got %d", c.Sync.RetryLimit)
	}
	if c.Notifications.Enabled && c.Notifications.WebhookURL == "" {
		return fmt.Errorf("notifications.webhook_url is required when notifications are enabled")
	}
	return nil
}
