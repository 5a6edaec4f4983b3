package config_test

import (
	"testing"
	"time"

	"github.com/iho/balancekeeper/internal/infrastructure/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}

	if cfg.StoreBackend != config.BackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.StoreBackend)
	}

	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}

	if cfg.CacheCapacity != 512 || cfg.QueueWorkers != 8 || cfg.RetryMax != 3 {
		t.Fatalf("unexpected coordination defaults: %+v", cfg)
	}

	if cfg.UsesRedis() {
		t.Fatalf("expected redis to be unused by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("REDIS_SNAPSHOT_CHANNEL", "balances")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_TIMEOUT", "45s")
	t.Setenv("DEBOUNCE_WINDOW", "25ms")
	t.Setenv("QUEUE_WORKERS", "2")
	t.Setenv("CURRENCY_RATES", "USD:KZT=470")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected custom database URL, got %s", cfg.DatabaseURL)
	}

	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}

	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}

	if cfg.DatabaseTimeout != 45*time.Second {
		t.Fatalf("expected database timeout override, got %s", cfg.DatabaseTimeout)
	}

	if cfg.DebounceWindow != 25*time.Millisecond || cfg.QueueWorkers != 2 {
		t.Fatalf("expected coordination overrides, got debounce=%s workers=%d", cfg.DebounceWindow, cfg.QueueWorkers)
	}

	if cfg.CurrencyRates != "USD:KZT=470" || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}

	if !cfg.UsesRedis() {
		t.Fatalf("expected snapshot channel to require redis")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown backend", "STORE_BACKEND", "sqlite"},
		{"zero workers", "QUEUE_WORKERS", "0"},
		{"zero cache", "CACHE_CAPACITY", "0"},
		{"negative retries", "RETRY_MAX", "-1"},
		{"unparsable duration", "DEBOUNCE_WINDOW", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := config.Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
