// Package config loads process configuration from the environment, following the
// DefaultConfig / LoadFromEnv / Validate shape used throughout this codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds the Postgres connection and pool settings for the Store.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultDatabaseConfig returns the baseline database configuration.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "logikal_sync",
		Password:        "",
		Database:        "logikal_sync",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (c *DatabaseConfig) loadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

func (c *DatabaseConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// DSN renders the libpq connection string pgxpool.ParseConfig expects.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// UpstreamConfig holds credentials and limits for the Upstream Client.
type UpstreamConfig struct {
	BaseURL      string
	Username     string
	Password     string
	RateLimitRPS float64
	CallTimeout  time.Duration
	PoolSize     int
}

func DefaultUpstreamConfig() *UpstreamConfig {
	return &UpstreamConfig{
		BaseURL:      "",
		RateLimitRPS: 10,
		CallTimeout:  30 * time.Second,
		PoolSize:     2,
	}
}

func (c *UpstreamConfig) loadFromEnv() {
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("UPSTREAM_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("UPSTREAM_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = rps
		}
	}
	if v := os.Getenv("UPSTREAM_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.PoolSize = size
		}
	}
}

func (c *UpstreamConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("upstream base url is required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("upstream pool size must be at least 1")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("upstream rate limit must be positive")
	}
	return nil
}

// SchedulerConfig controls the tick interval and task queue backing store.
type SchedulerConfig struct {
	TickInterval time.Duration
	QueueAddr    string
	QueueDB      int
}

func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval: 60 * time.Second,
		QueueAddr:    "localhost:6379",
		QueueDB:      0,
	}
}

func (c *SchedulerConfig) loadFromEnv() {
	if v := os.Getenv("SCHEDULER_TICK_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.TickInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TASK_QUEUE_ADDR"); v != "" {
		c.QueueAddr = v
	}
}

// PartsParserConfig controls the blob parser worker.
type PartsParserConfig struct {
	BlobRoot       string
	WorkerCount    int
	BatchSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	PollInterval   time.Duration
}

func DefaultPartsParserConfig() *PartsParserConfig {
	return &PartsParserConfig{
		BlobRoot:     "/var/lib/logikal-sync/blobs",
		WorkerCount:  2,
		BatchSize:    5,
		MaxRetries:   3,
		RetryDelay:   2 * time.Minute,
		PollInterval: 10 * time.Second,
	}
}

func (c *PartsParserConfig) loadFromEnv() {
	if v := os.Getenv("BLOB_ROOT"); v != "" {
		c.BlobRoot = v
	}
	if v := os.Getenv("PARTS_PARSER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerCount = n
		}
	}
}

// AlertConfig controls outbound alert delivery.
type AlertConfig struct {
	SlackWebhookURL string
	SlackChannel    string
	Enabled         bool
}

func DefaultAlertConfig() *AlertConfig {
	return &AlertConfig{SlackChannel: "#sync-alerts", Enabled: false}
}

func (c *AlertConfig) loadFromEnv() {
	if v := os.Getenv("ALERT_SLACK_WEBHOOK_URL"); v != "" {
		c.SlackWebhookURL = v
		c.Enabled = true
	}
	if v := os.Getenv("ALERT_SLACK_CHANNEL"); v != "" {
		c.SlackChannel = v
	}
}

// Config is the top-level process configuration.
type Config struct {
	Database    *DatabaseConfig
	Upstream    *UpstreamConfig
	Scheduler   *SchedulerConfig
	PartsParser *PartsParserConfig
	Alert       *AlertConfig
	HTTPAddr    string
	MetricsAddr string
	ImageRoot   string
}

// DefaultConfig returns a Config populated with sensible defaults for every
// sub-section.
func DefaultConfig() *Config {
	return &Config{
		Database:    DefaultDatabaseConfig(),
		Upstream:    DefaultUpstreamConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		PartsParser: DefaultPartsParserConfig(),
		Alert:       DefaultAlertConfig(),
		HTTPAddr:    ":8080",
		MetricsAddr: "9090",
		ImageRoot:   "/var/lib/logikal-sync/images",
	}
}

// LoadFromEnv overlays environment variables onto the receiver. Unset or
// unparsable variables leave the existing value untouched, matching the
// teacher's "keep default on parse failure" convention.
func (c *Config) LoadFromEnv() {
	c.Database.loadFromEnv()
	c.Upstream.loadFromEnv()
	c.Scheduler.loadFromEnv()
	c.PartsParser.loadFromEnv()
	c.Alert.loadFromEnv()
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("IMAGE_ROOT"); v != "" {
		c.ImageRoot = v
	}
}

// Validate checks every sub-section and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}
	if c.PartsParser.WorkerCount < 1 {
		return fmt.Errorf("parts parser worker count must be at least 1")
	}
	return nil
}
