package config

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"
)

// resetFlagSet создаёт новый FlagSet перед каждым вызовом NewConfig,
// чтобы избежать повторной регистрации одних и тех же флагов между тестами.
func resetFlagSet(t *testing.T) {
	t.Helper()
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	// подавляем вывод парсера флагов в тестах
	flag.CommandLine.SetOutput(os.Stderr)
}

// clearEnv обнуляет переменные окружения из списка на время теста
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestNewConfig_DefaultsWhenEnvEmpty(t *testing.T) {
	clearEnv(t, "DATABASE_URI", "AUTH_SECRET", "BASE_URL", "ENABLE_HTTPS", "CLIENT_DB_PATH", "TOKEN_FILE",
		"ENVELOPE_RETENTION", "ENVELOPE_SWEEP_INTERVAL", "REQUEST_SWEEP_INTERVAL", "SESSION_LOCK_TIMEOUT",
		"RATE_LIMIT_PER_MINUTE", "BOOTSTRAP_WINDOW", "CATCHUP_WINDOW", "DEVICE_NAME")

	resetFlagSet(t)
	cfg := NewConfig()

	if cfg.AuthSecret != "dev-secret-key" {
		t.Fatalf("AuthSecret default expected 'dev-secret-key', got %q", cfg.AuthSecret)
	}
	if cfg.BaseURL != "localhost:8081" {
		t.Fatalf("BaseURL default expected 'localhost:8081', got %q", cfg.BaseURL)
	}
	if cfg.ServerURL != "http://localhost:8081" {
		t.Fatalf("ServerURL default expected 'http://localhost:8081', got %q", cfg.ServerURL)
	}
	if cfg.EnvelopeRetention != 168*time.Hour {
		t.Fatalf("EnvelopeRetention default expected 168h, got %s", cfg.EnvelopeRetention)
	}
	if cfg.EnvelopeSweepInterval != 6*time.Hour || cfg.RequestSweepInterval != 12*time.Hour {
		t.Fatalf("sweep intervals expected 6h/12h, got %s/%s", cfg.EnvelopeSweepInterval, cfg.RequestSweepInterval)
	}
	if cfg.BootstrapWindow != 80 || cfg.CatchupWindow != 30 {
		t.Fatalf("windows expected 80/30, got %d/%d", cfg.BootstrapWindow, cfg.CatchupWindow)
	}
	if cfg.RateLimitPerMinute != DefaultRateLimitPerMinute {
		t.Fatalf("RateLimitPerMinute default expected %d, got %d", DefaultRateLimitPerMinute, cfg.RateLimitPerMinute)
	}
	if cfg.ClientDBPath == "" || cfg.TokenFile == "" {
		t.Fatalf("client defaults must be non-empty: ClientDBPath=%q, TokenFile=%q", cfg.ClientDBPath, cfg.TokenFile)
	}
}

func TestNewConfig_BaseURLAndHTTPS(t *testing.T) {
	t.Setenv("BASE_URL", "example.com:443")
	t.Setenv("ENABLE_HTTPS", "true")
	t.Setenv("AUTH_SECRET", "top")
	t.Setenv("ENVELOPE_RETENTION", "48h")
	t.Setenv("REDIS_ADDR", "redis:6379")

	resetFlagSet(t)
	cfg := NewConfig()

	if cfg.BaseURL != "example.com:443" {
		t.Fatalf("BaseURL expected 'example.com:443', got %q", cfg.BaseURL)
	}
	if cfg.ServerURL != "https://example.com:443" {
		t.Fatalf("ServerURL expected 'https://example.com:443', got %q", cfg.ServerURL)
	}
	if cfg.AuthSecret != "top" {
		t.Fatalf("AuthSecret expected from env 'top', got %q", cfg.AuthSecret)
	}
	if cfg.EnvelopeRetention != 48*time.Hour {
		t.Fatalf("EnvelopeRetention expected 48h, got %s", cfg.EnvelopeRetention)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("RedisAddr expected 'redis:6379', got %q", cfg.RedisAddr)
	}
}

func TestNewConfig_InvalidBaseURLFallback(t *testing.T) {
	// Невалидный BASE_URL (со схемой) должен откатиться на localhost:8081
	t.Setenv("BASE_URL", "http://bad:8080")
	t.Setenv("ENABLE_HTTPS", "false")

	resetFlagSet(t)
	cfg := NewConfig()

	if cfg.BaseURL != "localhost:8081" {
		t.Fatalf("invalid BASE_URL must fallback to 'localhost:8081', got %q", cfg.BaseURL)
	}
	if !strings.HasPrefix(cfg.ServerURL, "http://localhost:8081") {
		t.Fatalf("ServerURL must reflect fallback base, got %q", cfg.ServerURL)
	}
}
