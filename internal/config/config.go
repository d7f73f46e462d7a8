package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	minSecretLength = 32
	maxJWTExpiry    = 30 * 24 * time.Hour
	defaultSecret   = "your-secret-key-change-in-production"
)

type Config struct {
	Environment string
	DatabaseDSN string
	HTTPAddr    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTExpiry   time.Duration

	RedisAddr string
	CacheTTL  time.Duration

	TrialDays int
	LogLevel  string

	StockMappingPath string

	EnableMetrics bool
	EnableSwagger bool
	RLSEnabled    bool

	ShutdownTimeout time.Duration

	// malformed holds env values Load could not parse; Validate reports them.
	malformed []error
}

func Load() *Config {
	config := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		DatabaseDSN:   os.Getenv("DB_DSN"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:     getEnv("JWT_SECRET", defaultSecret),
		JWTIssuer:     getEnv("JWT_ISS", "courier-console-api"),
		JWTAudience:   getEnv("JWT_AUD", "courier-console-api"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: os.Getenv("ENABLE_METRICS") == "true",
		EnableSwagger: os.Getenv("ENABLE_SWAGGER") == "true",
		RLSEnabled:    os.Getenv("RLS_ENABLED") == "true",

		StockMappingPath: getEnv("STOCK_MAPPING", "configs/mapping/stock_import.yaml"),
	}
	config.JWTExpiry = config.getDuration("JWT_EXPIRY", 24*time.Hour)
	config.CacheTTL = config.getDuration("CACHE_TTL", 60*time.Second)
	config.TrialDays = config.getInt("TRIAL_DAYS", 14)
	config.ShutdownTimeout = config.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	return config
}

// Validate checks the settings every process needs. The database DSN is
// checked separately by the binaries that open a connection.
func (c *Config) Validate() error {
	if len(c.malformed) > 0 {
		return errors.Join(c.malformed...)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}
	if c.Environment == "production" && c.JWTSecret == defaultSecret {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.JWTIssuer == "" {
		return errors.New("JWT_ISS must not be empty")
	}
	if c.JWTAudience == "" {
		return errors.New("JWT_AUD must not be empty")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}
	if c.JWTExpiry > maxJWTExpiry {
		return errors.New("JWT_EXPIRY must not exceed 30 days")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.TrialDays < 1 {
		return errors.New("TRIAL_DAYS must be at least 1")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

func LoadAndValidate() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		c.malformed = append(c.malformed, fmt.Errorf("%s: %q is not a duration", key, s))
		return defaultValue
	}
	return d
}

func (c *Config) getInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		c.malformed = append(c.malformed, fmt.Errorf("%s: %q is not an integer", key, s))
		return defaultValue
	}
	return n
}

// NewLogger builds the production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Environment == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
