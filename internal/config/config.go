// Package config loads the platform configuration: a yaml file read by
// viper, with secrets and deploy-specific values overridable from the
// environment via envconfig.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/varsling/notification-platform/internal/repository/postgres"
)

type Config struct {
	// Environment names the running deployment (dev, staging, prod-gcp).
	Environment string          `mapstructure:"environment"`
	SourceApp   string          `mapstructure:"source_app"`
	API         APIConfig       `mapstructure:"api"`
	Database    postgres.Config `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	Reminder    ReminderConfig  `mapstructure:"reminder"`
	Retention   RetentionConfig `mapstructure:"retention"`
	OrgRegistry OrgRegConfig    `mapstructure:"org_registry"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

type APIConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	StreamBase   string `mapstructure:"stream_base"`
	Partitions   int    `mapstructure:"partitions"`
	MaxRetries   int    `mapstructure:"max_retries"`
	RetryBackoff int    `mapstructure:"retry_backoff_ms"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type ReminderConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

type RetentionConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	// SuppressedEnvironments lists environment names where deletion
	// emission is disabled.
	SuppressedEnvironments []string `mapstructure:"suppressed_environments"`
}

type OrgRegConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// Contacts maps tenant org numbers to reminder recipient addresses.
	Contacts map[string]string `mapstructure:"contacts"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// overrides are values that must never live in the yaml file. Empty
// fields leave the file value in place.
type overrides struct {
	Environment  string `envconfig:"ENVIRONMENT"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	RedisURL     string `envconfig:"REDIS_URL"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var ov overrides
	if err := envconfig.Process("varsling", &ov); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if ov.Environment != "" {
		cfg.Environment = ov.Environment
	}
	if ov.DBPassword != "" {
		cfg.Database.Password = ov.DBPassword
	}
	if ov.RedisURL != "" {
		cfg.Redis.URL = ov.RedisURL
	}
	if ov.JWTSecret != "" {
		cfg.JWT.Secret = ov.JWTSecret
	}
	if ov.SMTPPassword != "" {
		cfg.SMTP.Password = ov.SMTPPassword
	}

	if cfg.Redis.Partitions <= 0 {
		return nil, fmt.Errorf("redis.partitions must be positive, got %d", cfg.Redis.Partitions)
	}
	return &cfg, nil
}
