package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	PRC        PRCConfig
	Sync       SyncConfig
	Queue      QueueConfig
	Automation AutomationConfig
	Auth       AuthConfig
	Discord    DiscordConfig
	Events     EventsConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig describes how to reach PostgreSQL. URL is resolved by
// DatabaseURL when empty.
type DatabaseConfig struct {
	URL           string
	MigrationsDir string
}

// PRCConfig tunes the upstream game-server API client.
type PRCConfig struct {
	BaseURL        string
	Timeout        time.Duration
	BucketCapacity int
	BucketWindow   time.Duration
	MaxRetries     int
}

// SyncConfig controls the ingestion pass.
type SyncConfig struct {
	Interval          time.Duration
	Concurrency       int
	DepartureLookback time.Duration
}

// QueueConfig controls the outbound queue consumer.
type QueueConfig struct {
	Interval  time.Duration
	BatchSize int
}

// AutomationConfig controls the rule engine.
type AutomationConfig struct {
	CacheTTL      time.Duration
	SweepSchedule string
}

// AuthConfig holds the shared secret guarding internal endpoints.
type AuthConfig struct {
	InternalSecret string
}

// DiscordConfig configures outbound chat delivery.
type DiscordConfig struct {
	BotToken string
	APIBase  string
}

// EventsConfig configures optional domain event fan-out.
type EventsConfig struct {
	NATSURL string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMigrationsDir = "./migrations"

	defaultPRCBaseURL        = "https://api.policeroleplay.community/v1"
	defaultPRCTimeout        = 8 * time.Second
	defaultBucketCapacity    = 35
	defaultBucketWindow      = time.Second
	defaultPRCMaxRetries     = 3
	defaultSyncInterval      = 10 * time.Second
	defaultSyncConcurrency   = 4
	defaultDepartureLookback = 30 * time.Minute

	defaultQueueInterval  = 3 * time.Second
	defaultQueueBatchSize = 10

	defaultCacheTTL      = 10 * time.Second
	defaultSweepSchedule = "@every 1m"

	defaultDiscordAPIBase = "https://discord.com/api/v10"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			MigrationsDir: getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		PRC: PRCConfig{
			BaseURL:        getEnv("PRC_BASE_URL", defaultPRCBaseURL),
			Timeout:        defaultPRCTimeout,
			BucketCapacity: defaultBucketCapacity,
			BucketWindow:   defaultBucketWindow,
			MaxRetries:     defaultPRCMaxRetries,
		},
		Sync: SyncConfig{
			Interval:          defaultSyncInterval,
			Concurrency:       defaultSyncConcurrency,
			DepartureLookback: defaultDepartureLookback,
		},
		Queue: QueueConfig{
			Interval:  defaultQueueInterval,
			BatchSize: defaultQueueBatchSize,
		},
		Automation: AutomationConfig{
			CacheTTL:      defaultCacheTTL,
			SweepSchedule: getEnv("AUTOMATION_SWEEP_SCHEDULE", defaultSweepSchedule),
		},
		Auth: AuthConfig{
			InternalSecret: os.Getenv("INTERNAL_SYNC_SECRET"),
		},
		Discord: DiscordConfig{
			BotToken: os.Getenv("DISCORD_BOT_TOKEN"),
			APIBase:  getEnv("DISCORD_API_BASE", defaultDiscordAPIBase),
		},
		Events: EventsConfig{
			NATSURL: os.Getenv("NATS_URL"),
		},
	}

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"PRC_TIMEOUT_SECONDS", &cfg.PRC.Timeout},
	}
	for _, s := range seconds {
		if v := os.Getenv(s.key); v != "" {
			d, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", s.key, err)
			}
			*s.dst = d
		}
	}

	millis := []struct {
		key string
		dst *time.Duration
	}{
		{"PRC_BUCKET_WINDOW_MS", &cfg.PRC.BucketWindow},
		{"SYNC_INTERVAL_MS", &cfg.Sync.Interval},
		{"QUEUE_INTERVAL_MS", &cfg.Queue.Interval},
		{"AUTOMATION_CACHE_TTL_MS", &cfg.Automation.CacheTTL},
	}
	for _, m := range millis {
		if v := os.Getenv(m.key); v != "" {
			d, err := ParseMillis(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", m.key, err)
			}
			*m.dst = d
		}
	}

	if v := os.Getenv("DEPARTURE_LOOKBACK_MINUTES"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEPARTURE_LOOKBACK_MINUTES: %w", err)
		}
		cfg.Sync.DepartureLookback = time.Duration(n) * time.Minute
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PRC_BUCKET_CAPACITY", &cfg.PRC.BucketCapacity},
		{"SYNC_CONCURRENCY", &cfg.Sync.Concurrency},
		{"QUEUE_BATCH_SIZE", &cfg.Queue.BatchSize},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
			}
			*i.dst = n
		}
	}

	if v := os.Getenv("PRC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid PRC_MAX_RETRIES: must be a non-negative integer")
		}
		cfg.PRC.MaxRetries = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// ParseMillis parses a non-negative millisecond count. It is exported for
// settings that are re-read at runtime from the database.
func ParseMillis(raw string) (time.Duration, error) {
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
