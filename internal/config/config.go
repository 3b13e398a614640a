// Package config loads the Ringwatch configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Load reads the optional .env files (".env" when none are given) and
// applies RINGWATCH_* overrides on top of the tier defaults. Variables
// already set in the process environment win over .env values.
func Load(envFiles ...string) *domain.Config {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded, using environment variables", "error", err)
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(getEnv("RINGWATCH_TIER", string(domain.TierCommunity))) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	// Server
	cfg.Server.Host = getEnv("RINGWATCH_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("RINGWATCH_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsInt("RINGWATCH_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsInt("RINGWATCH_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.MaxUploadBytes = int64(getEnvAsInt("RINGWATCH_MAX_UPLOAD_BYTES", int(cfg.Server.MaxUploadBytes)))
	cfg.Server.CORSOrigins = getEnvAsList("RINGWATCH_CORS_ORIGINS", cfg.Server.CORSOrigins)

	// Detection
	d := &cfg.Detection
	d.MaxCycleLength = getEnvAsInt("RINGWATCH_MAX_CYCLE_LENGTH", d.MaxCycleLength)
	d.MaxCycles = getEnvAsInt("RINGWATCH_MAX_CYCLES", d.MaxCycles)
	d.MaxSearchSteps = getEnvAsInt("RINGWATCH_MAX_SEARCH_STEPS", d.MaxSearchSteps)
	d.MaxShellChains = getEnvAsInt("RINGWATCH_MAX_SHELL_CHAINS", d.MaxShellChains)
	d.FanWindow = getEnvAsDuration("RINGWATCH_FAN_WINDOW", d.FanWindow)
	d.FanThreshold = getEnvAsInt("RINGWATCH_FAN_THRESHOLD", d.FanThreshold)
	d.Workers = getEnvAsInt("RINGWATCH_DETECTOR_WORKERS", d.Workers)

	// Alerting
	cfg.Alerting.Enabled = getEnvAsBool("RINGWATCH_ALERTS", cfg.Alerting.Enabled)
	cfg.Alerting.UseDefaultRules = getEnvAsBool("RINGWATCH_DEFAULT_RULES", cfg.Alerting.UseDefaultRules)

	// Repository
	r := &cfg.Repository
	r.Driver = getEnv("RINGWATCH_DB_DRIVER", r.Driver)
	r.SQLitePath = getEnv("RINGWATCH_SQLITE_PATH", r.SQLitePath)
	r.PostgresHost = getEnv("RINGWATCH_POSTGRES_HOST", r.PostgresHost)
	r.PostgresPort = getEnvAsInt("RINGWATCH_POSTGRES_PORT", r.PostgresPort)
	r.PostgresUser = getEnv("RINGWATCH_POSTGRES_USER", r.PostgresUser)
	r.PostgresPassword = getEnv("RINGWATCH_POSTGRES_PASSWORD", r.PostgresPassword)
	r.PostgresDB = getEnv("RINGWATCH_POSTGRES_DB", r.PostgresDB)
	r.PostgresSSLMode = getEnv("RINGWATCH_POSTGRES_SSLMODE", r.PostgresSSLMode)

	// Cache
	c := &cfg.Cache
	c.Type = getEnv("RINGWATCH_CACHE", c.Type)
	c.RedisAddr = getEnv("RINGWATCH_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("RINGWATCH_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("RINGWATCH_REDIS_DB", c.RedisDB)
	c.ReportTTL = getEnvAsDuration("RINGWATCH_REPORT_TTL", c.ReportTTL)

	// Event bus
	b := &cfg.EventBus
	b.Type = getEnv("RINGWATCH_BUS", b.Type)
	b.NATSUrl = getEnv("RINGWATCH_NATS_URL", b.NATSUrl)
	b.NATSToken = getEnv("RINGWATCH_NATS_TOKEN", b.NATSToken)
	b.NATSQueueGroup = getEnv("RINGWATCH_NATS_QUEUE_GROUP", b.NATSQueueGroup)

	// Worker
	cfg.Worker.Enabled = getEnvAsBool("RINGWATCH_ASYNC_WORKER", cfg.Worker.Enabled)
	cfg.Worker.Count = getEnvAsInt("RINGWATCH_WORKER_COUNT", cfg.Worker.Count)
	cfg.Worker.TenantIDs = getEnvAsList("RINGWATCH_TENANTS", cfg.Worker.TenantIDs)

	// Observability
	cfg.Logging.Level = getEnv("RINGWATCH_LOG_LEVEL", cfg.Logging.Level)
	if getEnvAsBool("RINGWATCH_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("RINGWATCH_LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvAsBool("RINGWATCH_TRACING", cfg.Tracing.Enabled)

	return cfg
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
		slog.Warn("ignoring invalid integer setting", "key", key, "value", valueStr)
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
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", valueStr)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", valueStr)
		return defaultValue
	}
	return value
}

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
	return out
}
