package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"PORT", "SERVER_PORT",
	"SERVER_READ_TIMEOUT_SECONDS", "SERVER_WRITE_TIMEOUT_SECONDS", "SERVER_SHUTDOWN_TIMEOUT_SECONDS",
	"LOG_LEVEL", "LOG_FORMAT", "MIGRATIONS_DIR",
	"PRC_BASE_URL", "PRC_TIMEOUT_SECONDS", "PRC_BUCKET_CAPACITY", "PRC_BUCKET_WINDOW_MS", "PRC_MAX_RETRIES",
	"SYNC_INTERVAL_MS", "SYNC_CONCURRENCY", "DEPARTURE_LOOKBACK_MINUTES",
	"QUEUE_INTERVAL_MS", "QUEUE_BATCH_SIZE",
	"AUTOMATION_CACHE_TTL_MS", "AUTOMATION_SWEEP_SCHEDULE",
	"INTERNAL_SYNC_SECRET", "DISCORD_BOT_TOKEN", "DISCORD_API_BASE", "NATS_URL",
	"DATABASE_URL", "INSTANCE_CONNECTION_NAME", "DB_USER", "DB_PASSWORD", "DB_NAME",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("expected default log level %v, got %v", slog.LevelInfo, cfg.Logging.Level)
	}
	if cfg.PRC.Timeout != 8*time.Second {
		t.Errorf("expected upstream timeout 8s, got %v", cfg.PRC.Timeout)
	}
	if cfg.PRC.BucketCapacity != 35 || cfg.PRC.BucketWindow != time.Second {
		t.Errorf("unexpected bucket defaults: %d per %v", cfg.PRC.BucketCapacity, cfg.PRC.BucketWindow)
	}
	if cfg.PRC.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.PRC.MaxRetries)
	}
	if cfg.Sync.Interval != 10*time.Second {
		t.Errorf("expected sync interval 10s, got %v", cfg.Sync.Interval)
	}
	if cfg.Sync.DepartureLookback != 30*time.Minute {
		t.Errorf("expected departure lookback 30m, got %v", cfg.Sync.DepartureLookback)
	}
	if cfg.Queue.Interval != 3*time.Second || cfg.Queue.BatchSize != 10 {
		t.Errorf("unexpected queue defaults: %v / %d", cfg.Queue.Interval, cfg.Queue.BatchSize)
	}
	if cfg.Automation.CacheTTL != 10*time.Second {
		t.Errorf("expected cache TTL 10s, got %v", cfg.Automation.CacheTTL)
	}
	if cfg.Automation.SweepSchedule != defaultSweepSchedule {
		t.Errorf("expected sweep schedule %q, got %q", defaultSweepSchedule, cfg.Automation.SweepSchedule)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	clearConfigEnv(t)

	overrides := map[string]string{
		"SERVER_PORT":             "9090",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "text",
		"PRC_TIMEOUT_SECONDS":     "4",
		"PRC_BUCKET_CAPACITY":     "10",
		"PRC_BUCKET_WINDOW_MS":    "500",
		"PRC_MAX_RETRIES":         "0",
		"SYNC_INTERVAL_MS":        "0",
		"QUEUE_INTERVAL_MS":       "1500",
		"QUEUE_BATCH_SIZE":        "25",
		"AUTOMATION_CACHE_TTL_MS": "2500",
		"INTERNAL_SYNC_SECRET":    "s3cret",
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected overridden port, got %q", cfg.Server.Port)
	}
	if cfg.Logging.Level != slog.LevelDebug || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.PRC.Timeout != 4*time.Second {
		t.Errorf("expected timeout 4s, got %v", cfg.PRC.Timeout)
	}
	if cfg.PRC.BucketCapacity != 10 || cfg.PRC.BucketWindow != 500*time.Millisecond {
		t.Errorf("unexpected bucket: %d per %v", cfg.PRC.BucketCapacity, cfg.PRC.BucketWindow)
	}
	if cfg.PRC.MaxRetries != 0 {
		t.Errorf("expected retries disabled, got %d", cfg.PRC.MaxRetries)
	}
	if cfg.Sync.Interval != 0 {
		t.Errorf("expected sync loop disabled, got %v", cfg.Sync.Interval)
	}
	if cfg.Queue.Interval != 1500*time.Millisecond || cfg.Queue.BatchSize != 25 {
		t.Errorf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Automation.CacheTTL != 2500*time.Millisecond {
		t.Errorf("expected cache TTL 2.5s, got %v", cfg.Automation.CacheTTL)
	}
	if cfg.Auth.InternalSecret != "s3cret" {
		t.Errorf("expected internal secret to be loaded")
	}
}

func TestLoadPortPrecedence(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected PORT to win, got %q", cfg.Server.Port)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SERVER_READ_TIMEOUT_SECONDS": "-1",
		"PRC_TIMEOUT_SECONDS":         "abc",
		"PRC_BUCKET_CAPACITY":         "0",
		"PRC_MAX_RETRIES":             "-2",
		"QUEUE_INTERVAL_MS":           "fast",
		"QUEUE_BATCH_SIZE":            "-5",
		"DEPARTURE_LOOKBACK_MINUTES":  "0",
		"LOG_LEVEL":                   "verbose",
		"LOG_FORMAT":                  "xml",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			} else if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Run("direct url", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("DATABASE_URL", "postgres://pow:pw@localhost:5432/pow")

		got, err := DatabaseURL()
		if err != nil {
			t.Fatalf("DatabaseURL returned error: %v", err)
		}
		if got != "postgres://pow:pw@localhost:5432/pow" {
			t.Errorf("unexpected url %q", got)
		}
	})

	t.Run("cloud sql socket", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("INSTANCE_CONNECTION_NAME", "proj:region:inst")
		t.Setenv("DB_USER", "pow")
		t.Setenv("DB_NAME", "pow")

		got, err := DatabaseURL()
		if err != nil {
			t.Fatalf("DatabaseURL returned error: %v", err)
		}
		want := "host=/cloudsql/proj:region:inst user=pow dbname=pow sslmode=disable"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("missing", func(t *testing.T) {
		clearConfigEnv(t)
		if _, err := DatabaseURL(); err == nil {
			t.Fatal("expected error when nothing is configured")
		}
	})
}

func TestRedactDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://pow:secret@db:5432/pow", "postgres://pow:***@db:5432/pow"},
		{"host=/cloudsql/x user=pow password=secret dbname=pow", "host=/cloudsql/x user=pow password=*** dbname=pow"},
		{"host=localhost dbname=pow", "host=localhost dbname=pow"},
	}
	for _, tt := range tests {
		if got := RedactDatabaseURL(tt.in); got != tt.want {
			t.Errorf("RedactDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
