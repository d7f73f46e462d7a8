package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "DB_DSN", "HTTP_ADDR", "JWT_SECRET", "JWT_ISS", "JWT_AUD", "JWT_EXPIRY",
		"REDIS_ADDR", "CACHE_TTL", "TRIAL_DAYS", "LOG_LEVEL", "STOCK_MAPPING", "ENABLE_METRICS", "ENABLE_SWAGGER",
		"RLS_ENABLED", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func validConfig() *Config {
	return &Config{
		JWTSecret:   "valid-secret-that-is-long-enough-for-testing",
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
		JWTExpiry:   time.Hour,
		CacheTTL:    time.Minute,
		TrialDays:   14,
		LogLevel:    "info",
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.JWTSecret != "your-secret-key-change-in-production" {
		t.Errorf("Expected default JWT_SECRET, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "courier-console-api" {
		t.Errorf("Expected default JWT_ISS, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "courier-console-api" {
		t.Errorf("Expected default JWT_AUD, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected default JWT_EXPIRY, got %v", cfg.JWTExpiry)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected default HTTP_ADDR, got %s", cfg.HTTPAddr)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("Expected default CACHE_TTL, got %v", cfg.CacheTTL)
	}
	if cfg.StockMappingPath != "configs/mapping/stock_import.yaml" {
		t.Errorf("Expected default STOCK_MAPPING, got %s", cfg.StockMappingPath)
	}
	if cfg.TrialDays != 14 {
		t.Errorf("Expected default TRIAL_DAYS, got %d", cfg.TrialDays)
	}
	if cfg.RedisAddr != "" || cfg.EnableMetrics || cfg.RLSEnabled {
		t.Errorf("Expected optional features off by default, got %+v", cfg)
	}
}

func TestLoadWithEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("JWT_ISS", "test-issuer")
	t.Setenv("JWT_AUD", "test-audience")
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("TRIAL_DAYS", "30")
	t.Setenv("ENABLE_METRICS", "true")

	cfg := Load()

	if cfg.JWTSecret != "test-secret-key" {
		t.Errorf("Expected JWT_SECRET from env, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "test-issuer" {
		t.Errorf("Expected JWT_ISS from env, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "test-audience" {
		t.Errorf("Expected JWT_AUD from env, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 2*time.Hour {
		t.Errorf("Expected JWT_EXPIRY from env, got %v", cfg.JWTExpiry)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR from env, got %s", cfg.RedisAddr)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("Expected CACHE_TTL from env, got %v", cfg.CacheTTL)
	}
	if cfg.TrialDays != 30 {
		t.Errorf("Expected TRIAL_DAYS from env, got %d", cfg.TrialDays)
	}
	if !cfg.EnableMetrics {
		t.Error("Expected ENABLE_METRICS from env")
	}
}

func TestLoadReportsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_EXPIRY", "forever")
	t.Setenv("TRIAL_DAYS", "two weeks")

	cfg := Load()

	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected fallback JWT_EXPIRY, got %v", cfg.JWTExpiry)
	}
	if cfg.StockMappingPath != "configs/mapping/stock_import.yaml" {
		t.Errorf("Expected default STOCK_MAPPING, got %s", cfg.StockMappingPath)
	}
	if cfg.TrialDays != 14 {
		t.Errorf("Expected fallback TRIAL_DAYS, got %d", cfg.TrialDays)
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected Validate to reject malformed values")
	}
	for _, key := range []string{"JWT_EXPIRY", "TRIAL_DAYS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Expected %s in error, got %v", key, err)
		}
	}

	t.Setenv("JWT_SECRET", "test-secret-key-that-is-long-enough-for-testing")
	if _, err := LoadAndValidate(); err == nil {
		t.Error("LoadAndValidate() accepted malformed values")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty secret", mutate: func(c *Config) { c.JWTSecret = "" }, expectError: true},
		{name: "secret too short", mutate: func(c *Config) { c.JWTSecret = "short" }, expectError: true},
		{name: "empty issuer", mutate: func(c *Config) { c.JWTIssuer = "" }, expectError: true},
		{name: "empty audience", mutate: func(c *Config) { c.JWTAudience = "" }, expectError: true},
		{name: "negative expiry", mutate: func(c *Config) { c.JWTExpiry = -time.Hour }, expectError: true},
		{name: "zero expiry", mutate: func(c *Config) { c.JWTExpiry = 0 }, expectError: true},
		{name: "expiry too long", mutate: func(c *Config) { c.JWTExpiry = 31 * 24 * time.Hour }, expectError: true},
		{name: "zero cache ttl", mutate: func(c *Config) { c.CacheTTL = 0 }, expectError: true},
		{name: "no trial days", mutate: func(c *Config) { c.TrialDays = 0 }, expectError: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, expectError: true},
		{name: "debug log level", mutate: func(c *Config) { c.LogLevel = "debug" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.expectError {
				t.Errorf("Validate() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "test-secret-key-that-is-long-enough-for-testing")
	t.Setenv("JWT_ISS", "test-issuer")
	t.Setenv("JWT_AUD", "test-audience")
	t.Setenv("JWT_EXPIRY", "1h")

	cfg, err := LoadAndValidate()
	if err != nil {
		t.Errorf("LoadAndValidate() failed with valid config: %v", err)
	}
	if cfg == nil {
		t.Error("LoadAndValidate() returned nil config with valid config")
	}

	t.Setenv("JWT_SECRET", "short")

	if _, err = LoadAndValidate(); err == nil {
		t.Error("LoadAndValidate() should fail with invalid config")
	}
}

func TestProductionSecretValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Error("Production validation should fail with default secret")
	}

	t.Setenv("JWT_SECRET", "proper-production-secret-that-is-long-enough")

	cfg = Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Production validation should pass with proper secret: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{Environment: "production", LogLevel: "warn"}
	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled at warn level")
	}

	cfg.LogLevel = "loud"
	if _, err := cfg.NewLogger(); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
