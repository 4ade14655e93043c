package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// External source (tianqi.2345.com history pages)
	Tianqi TianqiConfig

	// Engine
	Forecast   ForecastConfig
	SelfCheck  SelfCheckConfig
	Acceptance AcceptanceConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool

	ForecastCacheTTL time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// TianqiConfig holds the authoritative history page settings
type TianqiConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
}

// ForecastConfig holds quantile forecaster settings
type ForecastConfig struct {
	Lags      int
	MinMargin int // extra distinct days required on top of Lags
	Horizon   int
}

// SelfCheckConfig holds the per-call defaults of the combined self-check route.
// The MAPE threshold here is the strict per-backtest bound (0.3).
type SelfCheckConfig struct {
	BacktestDays  int
	MAPEThreshold float64
	SampleSize    int
	WebErrorLimit float64
	RecentDays    int
	LookupTimeout time.Duration
	Concurrency   int

	Schedule string
	Areas    []string
}

// AcceptanceConfig holds the system-level acceptance bounds
// ("forecast accuracy >= 70%" means MAPE <= 0.7).
type AcceptanceConfig struct {
	BacktestDays  int
	MAPEThreshold float64
	WebErrorLimit float64
}

// Load reads configuration from environment variables
// ⭐ SSOT: the only function that calls os.Getenv()
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:             getEnv("REDIS_HOST", "localhost"),
			Port:             getEnv("REDIS_PORT", "6379"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvAsInt("REDIS_DB", 0),
			Enabled:          getEnvAsBool("REDIS_ENABLED", false),
			ForecastCacheTTL: getEnvAsDuration("FORECAST_CACHE_TTL", "30m"),
		},

		Tianqi: TianqiConfig{
			BaseURL:    getEnv("TIANQI_BASE_URL", "https://tianqi.2345.com"),
			Timeout:    getEnvAsDuration("TIANQI_TIMEOUT", "20s"),
			RatePerSec: getEnvAsFloat("TIANQI_RATE_PER_SEC", 2),
		},

		Forecast: ForecastConfig{
			Lags:      getEnvAsInt("FORECAST_LAGS", 7),
			MinMargin: getEnvAsInt("FORECAST_MIN_MARGIN", 14),
			Horizon:   getEnvAsInt("FORECAST_HORIZON", 7),
		},

		SelfCheck: SelfCheckConfig{
			BacktestDays:  getEnvAsInt("SELFCHECK_BACKTEST_DAYS", 7),
			MAPEThreshold: getEnvAsFloat("SELFCHECK_MAPE_THRESHOLD", 0.3),
			SampleSize:    getEnvAsInt("SELFCHECK_SAMPLE_SIZE", 20),
			WebErrorLimit: getEnvAsFloat("SELFCHECK_WEB_ERROR_LIMIT", 0.05),
			RecentDays:    getEnvAsInt("SELFCHECK_RECENT_DAYS", 7),
			LookupTimeout: getEnvAsDuration("SELFCHECK_LOOKUP_TIMEOUT", "20s"),
			Concurrency:   getEnvAsInt("SELFCHECK_CONCURRENCY", 4),
			Schedule:      getEnv("SELFCHECK_SCHEDULE", "0 0 7 * * *"),
			Areas:         getEnvAsList("SELFCHECK_AREAS", []string{"广州"}),
		},

		Acceptance: AcceptanceConfig{
			BacktestDays:  getEnvAsInt("ACCEPTANCE_BACKTEST_DAYS", 30),
			MAPEThreshold: getEnvAsFloat("ACCEPTANCE_MAPE_THRESHOLD", 0.7),
			WebErrorLimit: getEnvAsFloat("ACCEPTANCE_WEB_ERROR_LIMIT", 0.05),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Forecast.Lags < 1 {
		return fmt.Errorf("FORECAST_LAGS must be >= 1")
	}
	if c.Forecast.MinMargin < 1 {
		return fmt.Errorf("FORECAST_MIN_MARGIN must be >= 1")
	}
	if c.Forecast.Horizon < 1 {
		return fmt.Errorf("FORECAST_HORIZON must be >= 1")
	}

	if !isFraction(c.SelfCheck.WebErrorLimit) || !isFraction(c.Acceptance.WebErrorLimit) {
		return fmt.Errorf("web error limits must be within [0, 1]")
	}
	if c.SelfCheck.MAPEThreshold <= 0 || c.Acceptance.MAPEThreshold <= 0 {
		return fmt.Errorf("MAPE thresholds must be > 0")
	}

	return nil
}

func isFraction(v float64) bool {
	return v >= 0 && v <= 1
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
