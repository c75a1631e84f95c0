package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "QUEUE_BACKEND", "DEDUP_WINDOW", "KAFKA_BROKERS", "ALLOW_PARTIAL_MATCH", "MAX_AMOUNT_DEVIATION"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.QueueBackend != config.BackendMemory {
		t.Errorf("expected memory queue backend, got %q", cfg.QueueBackend)
	}
	if cfg.DedupWindow != 60*time.Second {
		t.Errorf("expected 60s dedup window, got %s", cfg.DedupWindow)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("expected no kafka brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.AllowPartialMatch || cfg.MaxAmountDeviation != 0.1 {
		t.Errorf("unexpected match policy: partial=%v deviation=%v", cfg.AllowPartialMatch, cfg.MaxAmountDeviation)
	}
	if cfg.RejectRiskLevel != "critical" || cfg.ReviewRiskLevel != "high" {
		t.Errorf("unexpected risk levels: %s/%s", cfg.RejectRiskLevel, cfg.ReviewRiskLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "Postgres")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("ALLOW_PARTIAL_MATCH", "true")
	t.Setenv("MAX_AMOUNT_DEVIATION", "0.25")
	t.Setenv("MATCH_INTERVAL", "2s")
	t.Setenv("SUBMIT_RATE_LIMIT", "5.5")

	cfg := config.Load()

	if cfg.QueueBackend != config.BackendPostgres {
		t.Errorf("expected postgres, got %q", cfg.QueueBackend)
	}
	if want := []string{"kafka-1:9092", "kafka-2:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("expected %v, got %v", want, cfg.KafkaBrokers)
	}
	if !cfg.AllowPartialMatch || cfg.MaxAmountDeviation != 0.25 {
		t.Errorf("unexpected match policy: partial=%v deviation=%v", cfg.AllowPartialMatch, cfg.MaxAmountDeviation)
	}
	if cfg.MatchInterval != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.MatchInterval)
	}
	if cfg.SubmitRateLimit != 5.5 {
		t.Errorf("expected 5.5, got %v", cfg.SubmitRateLimit)
	}
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("DEV_TOOLS", "sure")
	t.Setenv("CLEANUP_INTERVAL", "soon")

	cfg := config.Load()

	if cfg.Port != 8080 || cfg.DevTools || cfg.CleanupInterval != time.Minute {
		t.Errorf("expected defaults, got port=%d dev=%v cleanup=%s", cfg.Port, cfg.DevTools, cfg.CleanupInterval)
	}
}

func TestLoadDotEnv_EnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "REDIS_ADDR=redis:6379\nKAFKA_TOPIC=\"from-file\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := os.Getenv("REDIS_ADDR"); got != "redis:6379" {
		t.Errorf("expected value from file, got %q", got)
	}
	if got := os.Getenv("KAFKA_TOPIC"); got != "from-env" {
		t.Errorf("expected environment to win, got %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
