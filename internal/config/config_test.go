package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// missingEnv points Load at a file that does not exist, so a stray .env in
// the working directory never leaks into a test.
func missingEnv(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(missingEnv(t))

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
	}
	if cfg.Detection.FanWindow != 72*time.Hour {
		t.Errorf("expected 72h fan window, got %s", cfg.Detection.FanWindow)
	}
	if cfg.Detection.FanThreshold != 10 {
		t.Errorf("expected fan threshold 10, got %d", cfg.Detection.FanThreshold)
	}
	if cfg.Worker.Enabled {
		t.Error("expected worker disabled in community tier")
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("RINGWATCH_TIER", "pro")

	cfg := Load(missingEnv(t))

	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected pro stack: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if !cfg.Worker.Enabled {
		t.Error("expected worker enabled in pro tier")
	}
	if cfg.EventBus.NATSQueueGroup != "ringwatch-workers" {
		t.Errorf("expected default queue group, got %q", cfg.EventBus.NATSQueueGroup)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RINGWATCH_PORT", "9090")
	t.Setenv("RINGWATCH_FAN_WINDOW", "48h")
	t.Setenv("RINGWATCH_FAN_THRESHOLD", "15")
	t.Setenv("RINGWATCH_CACHE", "none")
	t.Setenv("RINGWATCH_TENANTS", "bank-a, bank-b,,")
	t.Setenv("RINGWATCH_DEBUG", "true")
	t.Setenv("RINGWATCH_ALERTS", "false")
	t.Setenv("RINGWATCH_CORS_ORIGINS", "https://ops.bank-a.example")
	t.Setenv("RINGWATCH_NATS_QUEUE_GROUP", "rw-eu")

	cfg := Load(missingEnv(t))

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Detection.FanWindow != 48*time.Hour {
		t.Errorf("expected 48h, got %s", cfg.Detection.FanWindow)
	}
	if cfg.Detection.FanThreshold != 15 {
		t.Errorf("expected 15, got %d", cfg.Detection.FanThreshold)
	}
	if cfg.Cache.Type != "none" {
		t.Errorf("expected cache none, got %s", cfg.Cache.Type)
	}
	if len(cfg.Worker.TenantIDs) != 2 || cfg.Worker.TenantIDs[0] != "bank-a" || cfg.Worker.TenantIDs[1] != "bank-b" {
		t.Errorf("unexpected tenants: %v", cfg.Worker.TenantIDs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Alerting.Enabled {
		t.Error("expected alerting disabled")
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://ops.bank-a.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.EventBus.NATSQueueGroup != "rw-eu" {
		t.Errorf("expected queue group rw-eu, got %q", cfg.EventBus.NATSQueueGroup)
	}
}

func TestLoadInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("RINGWATCH_PORT", "not-a-port")
	t.Setenv("RINGWATCH_FAN_WINDOW", "three days")
	t.Setenv("RINGWATCH_TRACING", "maybe")

	cfg := Load(missingEnv(t))

	if cfg.Server.Port != 8001 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Detection.FanWindow != 72*time.Hour {
		t.Errorf("expected default window, got %s", cfg.Detection.FanWindow)
	}
	if cfg.Tracing.Enabled {
		t.Error("expected tracing to stay disabled")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "RINGWATCH_SQLITE_PATH=/tmp/from-file.db\nRINGWATCH_LOG_FORMAT=text\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	// godotenv only fills unset variables; t.Setenv restores the original
	// value after the test.
	t.Setenv("RINGWATCH_SQLITE_PATH", "")
	os.Unsetenv("RINGWATCH_SQLITE_PATH")
	t.Setenv("RINGWATCH_LOG_FORMAT", "text-from-process")

	cfg := Load(path)

	if cfg.Repository.SQLitePath != "/tmp/from-file.db" {
		t.Errorf("expected path from file, got %s", cfg.Repository.SQLitePath)
	}
	// Process environment wins over the file.
	if cfg.Logging.Format != "text-from-process" {
		t.Errorf("expected process value, got %s", cfg.Logging.Format)
	}
}
