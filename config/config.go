package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Object storage configuration
	Storage StorageConfig

	// Market data provider configuration
	EODHD EODHDConfig

	// Email delivery configuration
	SMTP SMTPConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// HTTP configuration
	HTTP HTTPConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// StorageConfig holds S3-compatible object storage configuration.
// Endpoint is required when targeting R2 or minio instead of AWS.
type StorageConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	APIKey string
}

// SMTPConfig holds digest email delivery configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// PipelineConfig holds batch job configuration
type PipelineConfig struct {
	DryRun          bool
	WindowDays      int    // valuation stats lookback in trading days
	DailyCronSpec   string // schedule mode: daily pipeline
	WeeklyCronSpec  string // schedule mode: weekly stats recompute
	SkipStatsOnMiss bool   // fall back to the basic template set when stats are absent
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
			Region:    getEnvString("STORAGE_REGION", "auto"),
			AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:    os.Getenv("STORAGE_BUCKET"),
		},
		EODHD: EODHDConfig{
			APIKey: os.Getenv("EODHD_API_KEY"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnvString("SMTP_FROM", "alerts@stock-sentinel.local"),
		},
		Pipeline: PipelineConfig{
			DryRun:          getEnvBool("PIPELINE_DRY_RUN", false),
			WindowDays:      getEnvInt("STATS_WINDOW_DAYS", 1260),
			DailyCronSpec:   getEnvString("DAILY_CRON_SPEC", "0 22 * * 1-5"),
			WeeklyCronSpec:  getEnvString("WEEKLY_CRON_SPEC", "0 6 * * 6"),
			SkipStatsOnMiss: getEnvBool("SKIP_STATS_ON_MISS", true),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8080"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pipeline.WindowDays <= 0 {
		return fmt.Errorf("STATS_WINDOW_DAYS must be positive, got %d", c.Pipeline.WindowDays)
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port)
	}

	// Storage credentials come as a set or not at all.
	partial := c.Storage.AccessKey != "" || c.Storage.SecretKey != "" || c.Storage.Bucket != ""
	complete := c.Storage.AccessKey != "" && c.Storage.SecretKey != "" && c.Storage.Bucket != ""
	if partial && !complete {
		return fmt.Errorf("incomplete storage configuration: STORAGE_ACCESS_KEY, STORAGE_SECRET_KEY, and STORAGE_BUCKET are all required together")
	}

	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasStorage returns true if object storage configuration is available
func (c *Config) HasStorage() bool {
	return c.Storage.AccessKey != "" && c.Storage.SecretKey != "" && c.Storage.Bucket != ""
}

// HasEODHD returns true if EODHD configuration is available
func (c *Config) HasEODHD() bool {
	return c.EODHD.APIKey != ""
}

// HasSMTP returns true if email delivery configuration is available
func (c *Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "",
		},
		Storage: StorageConfig{
			Endpoint:  "",
			Region:    "auto",
			AccessKey: "",
			SecretKey: "",
			Bucket:    "",
		},
		EODHD: EODHDConfig{
			APIKey: "",
		},
		SMTP: SMTPConfig{
			Host: "",
			Port: 587,
			From: "alerts@stock-sentinel.local",
		},
		Pipeline: PipelineConfig{
			DryRun:          false,
			WindowDays:      1260,
			DailyCronSpec:   "0 22 * * 1-5",
			WeeklyCronSpec:  "0 6 * * 6",
			SkipStatsOnMiss: true,
		},
		HTTP: HTTPConfig{
			Addr:               ":8080",
			CORSAllowedOrigins: "*",
		},
	}
}
