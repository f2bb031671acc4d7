package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr returns the listen address of the management API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // master secret; the webhook-secret key is derived from it
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// SchedulerConfig controls the periodic due-schedule scan.
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
}

// WebhookConfig controls outbound delivery, retries and event intake.
type WebhookConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxConcurrency       int64         `mapstructure:"max_concurrency"`
	DisableThreshold     int           `mapstructure:"disable_threshold"`
	UserAgent            string        `mapstructure:"user_agent"`
	RetryPollInterval    time.Duration `mapstructure:"retry_poll_interval"`
	RetryBatchSize       int           `mapstructure:"retry_batch_size"`
	BlockPrivateNetworks bool          `mapstructure:"block_private_networks"`
	EventWorkers         int           `mapstructure:"event_workers"`
	EventBuffer          int           `mapstructure:"event_buffer"`
	DedupTTL             time.Duration `mapstructure:"dedup_ttl"`
}

// JobsConfig points at the job-execution service that starts collection runs.
type JobsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SMA_ (Sentimatrix Automation).
// Nested keys use underscore: SMA_DATABASE_HOST, SMA_WEBHOOK_MAX_CONCURRENCY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sentimatrix")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "sma:")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "sentimatrix")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", "60s")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.trigger_timeout", "30s")
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.max_concurrency", 16)
	v.SetDefault("webhook.disable_threshold", 5)
	v.SetDefault("webhook.user_agent", "SentimatrixStudio/1.0")
	v.SetDefault("webhook.retry_poll_interval", "15s")
	v.SetDefault("webhook.retry_batch_size", 100)
	v.SetDefault("webhook.block_private_networks", true)
	v.SetDefault("webhook.event_workers", 4)
	v.SetDefault("webhook.event_buffer", 256)
	v.SetDefault("webhook.dedup_ttl", "24h")
	v.SetDefault("jobs.base_url", "http://localhost:8000")
	v.SetDefault("jobs.api_key", "")
	v.SetDefault("jobs.timeout", "30s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SMA_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Webhook.RetryPollInterval <= 0 {
		return fmt.Errorf("webhook.retry_poll_interval must be positive")
	}
	if c.Webhook.MaxConcurrency < 1 {
		return fmt.Errorf("webhook.max_concurrency must be at least 1")
	}
	if c.Webhook.DisableThreshold < 1 {
		return fmt.Errorf("webhook.disable_threshold must be at least 1")
	}
	if c.Webhook.Timeout <= 0 || c.Webhook.Timeout > 30*time.Second {
		return fmt.Errorf("webhook.timeout must be in (0, 30s]")
	}
	return nil
}
