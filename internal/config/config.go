package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stayops/internal/models"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Sync        SyncConfig        `yaml:"sync"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	API         APIConfig         `yaml:"api"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	Exports     ExportConfig      `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`

	// Pool startup and self-healing knobs.
	StartupBudgetSeconds     int `yaml:"startup_budget_seconds"`
	AttemptIntervalSeconds   int `yaml:"attempt_interval_seconds"`
	ReconnectIntervalSeconds int `yaml:"reconnect_interval_seconds"`
	ConnectTimeoutSeconds    int `yaml:"connect_timeout_seconds"`

	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SyncConfig struct {
	MaxRetries           int    `yaml:"max_retries"`
	BaseDelaySeconds     int    `yaml:"base_delay_seconds"`
	QueueKey             string `yaml:"queue_key"`
	DeadLetterKey        string `yaml:"dead_letter_key"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	BatchSize            int    `yaml:"batch_size"`
	HeartbeatSeconds     int    `yaml:"heartbeat_seconds"`
	PreflightTimeoutSecs int    `yaml:"preflight_timeout_seconds"`
}

type IdempotencyConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars referenced from YAML may come from anywhere.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	if c.Database.AttemptIntervalSeconds > c.Database.StartupBudgetSeconds {
		return fmt.Errorf("database.attempt_interval_seconds (%d) exceeds startup budget (%d)",
			c.Database.AttemptIntervalSeconds, c.Database.StartupBudgetSeconds)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.StartupBudgetSeconds == 0 {
		c.Database.StartupBudgetSeconds = 60
	}
	if c.Database.AttemptIntervalSeconds == 0 {
		c.Database.AttemptIntervalSeconds = 2
	}
	if c.Database.ReconnectIntervalSeconds == 0 {
		c.Database.ReconnectIntervalSeconds = 30
	}
	if c.Database.ConnectTimeoutSeconds == 0 {
		c.Database.ConnectTimeoutSeconds = 5
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.BaseDelaySeconds == 0 {
		c.Sync.BaseDelaySeconds = models.DefaultBaseDelaySeconds
	}
	if c.Sync.QueueKey == "" {
		c.Sync.QueueKey = "sync:queue"
	}
	if c.Sync.DeadLetterKey == "" {
		c.Sync.DeadLetterKey = "sync:deadletter"
	}
	if c.Sync.PollIntervalSeconds == 0 {
		c.Sync.PollIntervalSeconds = 2
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}
	if c.Sync.HeartbeatSeconds == 0 {
		c.Sync.HeartbeatSeconds = 5
	}
	if c.Sync.PreflightTimeoutSecs == 0 {
		c.Sync.PreflightTimeoutSecs = 5
	}

	if c.Idempotency.TTLHours == 0 {
		c.Idempotency.TTLHours = models.DefaultIdempotencyTTLHours
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// Duration helpers keep the second-granular YAML fields out of call sites.

func (d DatabaseConfig) StartupBudget() time.Duration {
	return time.Duration(d.StartupBudgetSeconds) * time.Second
}

func (d DatabaseConfig) AttemptInterval() time.Duration {
	return time.Duration(d.AttemptIntervalSeconds) * time.Second
}

func (d DatabaseConfig) ReconnectInterval() time.Duration {
	return time.Duration(d.ReconnectIntervalSeconds) * time.Second
}

func (d DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

func (s SyncConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelaySeconds) * time.Second
}

func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SyncConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

func (s SyncConfig) PreflightTimeout() time.Duration {
	return time.Duration(s.PreflightTimeoutSecs) * time.Second
}

func (i IdempotencyConfig) TTL() time.Duration {
	return time.Duration(i.TTLHours) * time.Hour
}
