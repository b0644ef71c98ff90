package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/powhq/pow/internal/api"
	"github.com/powhq/pow/internal/app"
	"github.com/powhq/pow/internal/config"
	"github.com/powhq/pow/internal/database"
	"github.com/powhq/pow/internal/discord"
	"github.com/powhq/pow/internal/events"
	"github.com/powhq/pow/internal/logging"
	"github.com/powhq/pow/internal/metrics"
	"github.com/powhq/pow/internal/scheduler"
	"github.com/powhq/pow/internal/server"
	"github.com/powhq/pow/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting pow")

	if cfg.Auth.InternalSecret == "" {
		logger.Error("INTERNAL_SYNC_SECRET must be set")
		os.Exit(1)
	}

	dbURL := cfg.Database.URL
	if dbURL == "" {
		if dbURL, err = config.DatabaseURL(); err != nil {
			logger.Error("failed to resolve database URL", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("connecting to database", "url", config.RedactDatabaseURL(dbURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := database.DefaultConfig()
	dbCfg.URL = dbURL
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Migration failures are not fatal so a bad file does not take the
	// queue consumer down with it.
	source := database.MigrationSource(cfg.Database.MigrationsDir, migrations.FS)
	if _, err := database.RunMigrations(ctx, db, source, logging.Component(logger, "migrations")); err != nil {
		logger.Warn("failed to run migrations, continuing anyway", "error", err)
	}

	collector, err := metrics.New()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	opts := []app.Option{app.WithMetrics(collector)}
	if cfg.Events.NATSURL != "" {
		conn, err := events.Connect(cfg.Events.NATSURL, logging.Component(logger, "events"))
		if err != nil {
			logger.Warn("event fan-out disabled", "error", err)
		} else {
			defer conn.Close()
			opts = append(opts, app.WithEventSink(events.NewSink(conn, logging.Component(logger, "events"))))
			logger.Info("event fan-out enabled")
		}
	}

	if cfg.Discord.BotToken == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, queued chat deliveries will fail")
	}
	deliverer := discord.NewClient(cfg.Discord.APIBase, cfg.Discord.BotToken, logging.Component(logger, "discord"))

	rt := app.New(cfg, database.NewRepositories(db), deliverer, logger, opts...)

	syncScheduler := scheduler.NewSyncScheduler(rt, cfg.Sync.Interval, logging.Component(logger, "sync"))
	go syncScheduler.Start(ctx)

	queueScheduler := scheduler.NewQueueScheduler(rt, logging.Component(logger, "queue"))
	go queueScheduler.Start(ctx)

	sweepScheduler := scheduler.NewSweepScheduler(rt, cfg.Automation.SweepSchedule, logging.Component(logger, "sweep"))
	if err := sweepScheduler.Start(ctx); err != nil {
		logger.Error("failed to start sweep scheduler", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(rt, healthCheck(db), logging.Component(logger, "api"))
	srv := server.New(cfg.Server, logger, api.NewRouter(handler, cfg.Auth.InternalSecret, collector))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("pow started", "port", cfg.Server.Port)

	<-ctx.Done()
	logger.Info("shutting down")

	syncScheduler.Stop()
	queueScheduler.Stop()
	sweepScheduler.Stop()

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func healthCheck(db *sql.DB) api.HealthCheck {
	return func(ctx context.Context) error {
		return database.HealthCheck(ctx, db)
	}
}
