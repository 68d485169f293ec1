package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atmx/quote-engine/internal/valuation"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Addr() != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr())
	}
	if cfg.Feed.Mode != FeedModeSim {
		t.Errorf("expected sim mode, got %s", cfg.Feed.Mode)
	}
	if cfg.Feed.HistorySize != 20 {
		t.Errorf("expected history size 20, got %d", cfg.Feed.HistorySize)
	}
	if cfg.Feed.BackoffMin != time.Second || cfg.Feed.BackoffMax != 30*time.Second {
		t.Errorf("unexpected backoff %s..%s", cfg.Feed.BackoffMin, cfg.Feed.BackoffMax)
	}
	if cfg.Sim.Interval != 3*time.Second {
		t.Errorf("expected 3s interval, got %s", cfg.Sim.Interval)
	}
	if cfg.CostBasisMethod() != valuation.AverageCost {
		t.Errorf("expected average cost, got %s", cfg.CostBasisMethod())
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelInfo {
		t.Errorf("expected info level, got %s", lvl)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("APP_PORT", ":9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FEED_MODE", "kafka")
	t.Setenv("FEED_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FEED_HISTORY_SIZE", "50")
	t.Setenv("FEED_BACKOFF_MIN", "250ms")
	t.Setenv("REDIS_CACHE_TTL", "1m")
	t.Setenv("VALUATION_COST_BASIS", "fifo")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Addr() != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Addr())
	}
	if len(cfg.Feed.KafkaBrokers) != 2 || cfg.Feed.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Feed.KafkaBrokers)
	}
	if cfg.Feed.HistorySize != 50 {
		t.Errorf("expected 50, got %d", cfg.Feed.HistorySize)
	}
	if cfg.Feed.BackoffMin != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.Feed.BackoffMin)
	}
	if cfg.Redis.CacheTTL != time.Minute {
		t.Errorf("expected 1m, got %s", cfg.Redis.CacheTTL)
	}
	if cfg.CostBasisMethod() != valuation.FIFO {
		t.Errorf("expected fifo, got %s", cfg.CostBasisMethod())
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", lvl)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("UPSTREAM_URL=http://backend:8080\nUPSTREAM_TOKEN=abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("UPSTREAM_URL")
		os.Unsetenv("UPSTREAM_TOKEN")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upstream.URL != "http://backend:8080" || cfg.Upstream.Token != "abc" {
		t.Errorf("env file not applied: %+v", cfg.Upstream)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown mode", map[string]string{"FEED_MODE": "carrier-pigeon"}},
		{"redis mode without url", map[string]string{"FEED_MODE": "redis"}},
		{"zero history", map[string]string{"FEED_HISTORY_SIZE": "0"}},
		{"inverted backoff", map[string]string{"FEED_BACKOFF_MIN": "10s", "FEED_BACKOFF_MAX": "1s"}},
		{"unknown cost basis", map[string]string{"VALUATION_COST_BASIS": "lifo"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"unknown publish", map[string]string{"SIM_PUBLISH": "smoke"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(noEnvFile(t)); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
