// Package config provides environment-based configuration management
// All settings come from environment variables, optionally seeded from .env
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string // Format: host:port
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port       int
	Env        string // APP_ENV: "production" enables cron auth and JSON logs
	LogLevel   string
	CronSecret string // Bearer token for /api/cron/* in production
	MeshSecret string // Ops API and staff WebSocket key
}

// IsProduction reports whether APP_ENV is production
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}

// FacebookConfig holds Graph API webhook and client configuration
type FacebookConfig struct {
	AppSecret     string // For HMAC SHA256 signature validation
	VerifyToken   string // For webhook verification handshake
	APIVersion    string
	BaseURL       string
	RatePerSecond float64 // Per-token outbound limit
	Burst         int
	Timeout       time.Duration
}

// AIConfig holds the model provider and turn settings
type AIConfig struct {
	GeminiAPIKey  string
	Timeout       time.Duration // AI_TIMEOUT: expiry triggers the fallback reply
	HistoryWindow int           // AI_HISTORY_WINDOW: turns fed back as context
	MaxToolRounds int
	PlansFile     string // PLANS_FILE: overrides the embedded plan tiers
	MaxImageBytes int64
}

// PipelineConfig holds batching and reply timing
type PipelineConfig struct {
	BatchingEnabled  bool
	QuietWindow      time.Duration // BATCH_QUIET_WINDOW
	MaxBatchWait     time.Duration
	MinReplyDelay    time.Duration
	SweepLimit       int
	SweepConcurrency int
	HandoffPause     time.Duration // AI pause after request_human_support
}

// HousekeepingConfig drives the watchdog
type HousekeepingConfig struct {
	Schedule           string // Cron expression
	DiskPath           string
	PurgeDiskThreshold float64 // Percent
	PendingRetention   time.Duration
	HistoryRetention   time.Duration
}

// Config aggregates all configuration sections
type Config struct {
	DB           DBConfig
	Redis        RedisConfig
	App          AppConfig
	Facebook     FacebookConfig
	AI           AIConfig
	Pipeline     PipelineConfig
	Housekeeping HousekeepingConfig
}

// LoadConfig reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// real environment variables always win.
// Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "storefront_chat")
	cfg.DB.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DB.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DB.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.App.CronSecret = getEnv("CRON_SECRET", "")
	cfg.App.MeshSecret = getEnv("MESH_SECRET", "")

	// Facebook / Instagram Graph API
	cfg.Facebook.AppSecret = getEnv("FB_APP_SECRET", "")
	cfg.Facebook.VerifyToken = getEnv("FB_VERIFY_TOKEN", "")
	cfg.Facebook.APIVersion = getEnv("FB_API_VERSION", "v21.0")
	cfg.Facebook.BaseURL = getEnv("FB_GRAPH_URL", "https://graph.facebook.com")
	cfg.Facebook.RatePerSecond = getEnvAsFloat("FB_RATE_PER_SECOND", 20)
	cfg.Facebook.Burst = getEnvAsInt("FB_RATE_BURST", 10)
	cfg.Facebook.Timeout = getEnvAsDuration("FB_TIMEOUT", 10*time.Second)

	// AI
	cfg.AI.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")
	cfg.AI.Timeout = getEnvAsDuration("AI_TIMEOUT", 25*time.Second)
	cfg.AI.HistoryWindow = getEnvAsInt("AI_HISTORY_WINDOW", 10)
	cfg.AI.MaxToolRounds = getEnvAsInt("AI_MAX_TOOL_ROUNDS", 3)
	cfg.AI.PlansFile = getEnv("PLANS_FILE", "")
	cfg.AI.MaxImageBytes = int64(getEnvAsInt("AI_MAX_IMAGE_BYTES", 8<<20))

	// Pipeline
	cfg.Pipeline.BatchingEnabled = getEnvAsBool("BATCHING_ENABLED", true)
	cfg.Pipeline.QuietWindow = getEnvAsDuration("BATCH_QUIET_WINDOW", 5*time.Second)
	cfg.Pipeline.MaxBatchWait = getEnvAsDuration("BATCH_MAX_WAIT", 60*time.Second)
	cfg.Pipeline.MinReplyDelay = getEnvAsDuration("MIN_REPLY_DELAY", 2*time.Second)
	cfg.Pipeline.SweepLimit = getEnvAsInt("SWEEP_LIMIT", 500)
	cfg.Pipeline.SweepConcurrency = getEnvAsInt("SWEEP_CONCURRENCY", 4)
	cfg.Pipeline.HandoffPause = getEnvAsDuration("HANDOFF_PAUSE", 30*time.Minute)

	// Housekeeping
	cfg.Housekeeping.Schedule = getEnv("PURGE_SCHEDULE", "*/10 * * * *")
	cfg.Housekeeping.DiskPath = getEnv("PURGE_DISK_PATH", "/")
	cfg.Housekeeping.PurgeDiskThreshold = getEnvAsFloat("PURGE_DISK_THRESHOLD", 70)
	cfg.Housekeeping.PendingRetention = getEnvAsDuration("PENDING_RETENTION", time.Hour)
	cfg.Housekeeping.HistoryRetention = getEnvAsDuration("HISTORY_RETENTION", 90*24*time.Hour)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Password == "" {
		return fmt.Errorf("DB_PASS environment variable is required")
	}
	if c.Facebook.AppSecret == "" {
		return fmt.Errorf("FB_APP_SECRET environment variable is required")
	}
	if c.Facebook.VerifyToken == "" {
		return fmt.Errorf("FB_VERIFY_TOKEN environment variable is required")
	}
	if c.AI.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if c.App.IsProduction() && c.App.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required when APP_ENV=production")
	}
	return nil
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// SlogLevel maps LOG_LEVEL to a slog level (default info)
func (a AppConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5s", "30m") or bare seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("Invalid duration, using default", "key", key, "value", value)
	return defaultValue
}
