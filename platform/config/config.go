// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// WorkerConfig provides settings for the queue worker fleet.
type WorkerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetQueueName() string
	GetQueueConcurrency() int
	GetMaxJobRetries() int
	GetLeaseTTL() time.Duration
	GetDecaySweepInterval() time.Duration
	GetDecaySweepBatchSize() int
	GetDecayWindow() time.Duration
}

// RulesConfig provides settings for loading rule sets.
type RulesConfig interface {
	GetRulesPath() string
	GetRulesReloadInterval() time.Duration
}

// NotifierConfig provides settings for the SMTP notification collaborator.
type NotifierConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetNotifyFromName() string
	GetNotifyFromAddress() string
	IsNotifierEnabled() bool
}

// FinanceSyncConfig provides settings for the external finance sync collaborator.
type FinanceSyncConfig interface {
	GetFinanceSyncURL() string
	GetFinanceSyncAPIKey() string
	GetFinanceSyncTimeout() time.Duration
	GetFinanceSyncRatePerSecond() float64
	IsFinanceSyncEnabled() bool
}

// IdentityConfig provides settings for identity resolution.
type IdentityConfig interface {
	GetDefaultPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	RedisURL            string
	RedisTLSInsecure    bool
	QueueName           string
	QueueConcurrency    int
	MaxJobRetries       int
	LeaseTTL            time.Duration
	DecaySweepInterval  time.Duration
	DecaySweepBatchSize int
	DecayWindow         time.Duration
	RulesPath           string
	RulesReloadInterval time.Duration
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	NotifyFromName      string
	NotifyFromAddress   string
	FinanceSyncURL      string
	FinanceSyncAPIKey   string
	FinanceSyncTimeout  time.Duration
	FinanceSyncRate     float64
	DefaultPhoneRegion  string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// WorkerConfig implementation
func (c *Config) GetRedisURL() string                 { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool           { return c.RedisTLSInsecure }
func (c *Config) GetQueueName() string                { return c.QueueName }
func (c *Config) GetQueueConcurrency() int            { return c.QueueConcurrency }
func (c *Config) GetMaxJobRetries() int               { return c.MaxJobRetries }
func (c *Config) GetLeaseTTL() time.Duration          { return c.LeaseTTL }
func (c *Config) GetDecaySweepInterval() time.Duration { return c.DecaySweepInterval }
func (c *Config) GetDecaySweepBatchSize() int          { return c.DecaySweepBatchSize }
func (c *Config) GetDecayWindow() time.Duration        { return c.DecayWindow }

// RulesConfig implementation
func (c *Config) GetRulesPath() string                  { return c.RulesPath }
func (c *Config) GetRulesReloadInterval() time.Duration { return c.RulesReloadInterval }

// NotifierConfig implementation
func (c *Config) GetSMTPHost() string          { return c.SMTPHost }
func (c *Config) GetSMTPPort() int             { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string      { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string      { return c.SMTPPassword }
func (c *Config) GetNotifyFromName() string    { return c.NotifyFromName }
func (c *Config) GetNotifyFromAddress() string { return c.NotifyFromAddress }
func (c *Config) IsNotifierEnabled() bool      { return c.SMTPHost != "" && c.NotifyFromAddress != "" }

// FinanceSyncConfig implementation
func (c *Config) GetFinanceSyncURL() string            { return c.FinanceSyncURL }
func (c *Config) GetFinanceSyncAPIKey() string         { return c.FinanceSyncAPIKey }
func (c *Config) GetFinanceSyncTimeout() time.Duration { return c.FinanceSyncTimeout }
func (c *Config) GetFinanceSyncRatePerSecond() float64 { return c.FinanceSyncRate }
func (c *Config) IsFinanceSyncEnabled() bool           { return c.FinanceSyncURL != "" }

// IdentityConfig implementation
func (c *Config) GetDefaultPhoneRegion() string { return c.DefaultPhoneRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		QueueName:           getEnv("QUEUE_NAME", "leadflow"),
		QueueConcurrency:    mustInt(getEnv("QUEUE_CONCURRENCY", "10")),
		MaxJobRetries:       mustInt(getEnv("MAX_JOB_RETRIES", "8")),
		LeaseTTL:            mustDuration(getEnv("LEAD_LEASE_TTL", "30s")),
		DecaySweepInterval:  mustDuration(getEnv("DECAY_SWEEP_INTERVAL", "15m")),
		DecaySweepBatchSize: mustInt(getEnv("DECAY_SWEEP_BATCH_SIZE", "200")),
		DecayWindow:         mustDuration(getEnv("DECAY_WINDOW", "6h")),
		RulesPath:           getEnv("RULES_PATH", "config/rules.yaml"),
		RulesReloadInterval: mustDuration(getEnv("RULES_RELOAD_INTERVAL", "30s")),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		NotifyFromName:      getEnv("NOTIFY_FROM_NAME", "LeadFlow"),
		NotifyFromAddress:   getEnv("NOTIFY_FROM_ADDRESS", ""),
		FinanceSyncURL:      getEnv("FINANCE_SYNC_URL", ""),
		FinanceSyncAPIKey:   getEnv("FINANCE_SYNC_API_KEY", ""),
		FinanceSyncTimeout:  mustDuration(getEnv("FINANCE_SYNC_TIMEOUT", "10s")),
		FinanceSyncRate:     mustFloat(getEnv("FINANCE_SYNC_RATE_PER_SECOND", "5")),
		DefaultPhoneRegion:  getEnv("DEFAULT_PHONE_REGION", "NL"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.QueueConcurrency < 1 {
		cfg.QueueConcurrency = 10
	}
	if cfg.MaxJobRetries < 1 {
		cfg.MaxJobRetries = 8
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
