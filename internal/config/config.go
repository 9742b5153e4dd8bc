// Package config loads Kestrel configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration for the tier named by KESTREL_TIER and
// applies KESTREL_* overrides. A .env file in the working directory is
// read first when present.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv is Load without the .env file.
func FromEnv() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("KESTREL_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("KESTREL_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresURL = getEnv("KESTREL_POSTGRES_URL", getEnv("DATABASE_URL", cfg.Repository.PostgresURL))
	cfg.Repository.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.MaxOpenConns = getEnvInt("KESTREL_DB_MAX_OPEN", cfg.Repository.MaxOpenConns)

	cfg.Cache.Type = getEnv("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.EnableTwoPhase = getEnvBool("KESTREL_CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)
	cfg.Cache.DirectoryTTL = getEnvDuration("KESTREL_DIRECTORY_TTL", cfg.Cache.DirectoryTTL)

	cfg.EventBus.Type = getEnv("KESTREL_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.AsyncWorker = getEnvBool("KESTREL_ASYNC_WORKER", cfg.AsyncWorker)

	cfg.Detection.VeryHighAmount = getEnv("KESTREL_VERY_HIGH_AMOUNT", cfg.Detection.VeryHighAmount)
	cfg.Detection.DeclineThreshold = getEnvFloat("KESTREL_DECLINE_THRESHOLD", cfg.Detection.DeclineThreshold)
	cfg.Detection.ReviewThreshold = getEnvFloat("KESTREL_REVIEW_THRESHOLD", cfg.Detection.ReviewThreshold)
	cfg.Detection.ModelPath = getEnv("KESTREL_MODEL_PATH", cfg.Detection.ModelPath)
	if v := os.Getenv("KESTREL_HIGH_RISK_COUNTRIES"); v != "" {
		cfg.Detection.HighRiskCountries = splitList(v)
	}

	cfg.Ledger.Durable = getEnvBool("KESTREL_LEDGER_DURABLE", cfg.Ledger.Durable)

	cfg.Security.AdminToken = getEnv("KESTREL_ADMIN_TOKEN", cfg.Security.AdminToken)
	cfg.Security.RateLimitPerMinute = getEnvInt("KESTREL_RATE_LIMIT", cfg.Security.RateLimitPerMinute)
	if v := os.Getenv("KESTREL_CORS_ORIGINS"); v != "" {
		cfg.Security.AllowedOrigins = splitFields(v)
	}

	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = getEnvBool("KESTREL_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats", "none":
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}

	d := cfg.Detection
	if d.ReviewThreshold < 0 || d.DeclineThreshold > 1 || d.ReviewThreshold >= d.DeclineThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= review (%v) < decline (%v) <= 1", d.ReviewThreshold, d.DeclineThreshold)
	}
	amt, err := decimal.NewFromString(d.VeryHighAmount)
	if err != nil || amt.IsNegative() {
		return fmt.Errorf("invalid very high amount %q", d.VeryHighAmount)
	}

	if cfg.Security.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	out := splitFields(v)
	for i, part := range out {
		out[i] = strings.ToUpper(part)
	}
	return out
}

// splitFields splits a comma-separated value, dropping empty entries.
func splitFields(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
