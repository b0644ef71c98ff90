package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/powhq/pow/internal/app"
	"github.com/powhq/pow/internal/auth"
	"github.com/powhq/pow/internal/config"
	"github.com/powhq/pow/internal/database"
	"github.com/powhq/pow/internal/discord"
	"github.com/powhq/pow/internal/logging"
	"github.com/powhq/pow/migrations"
)

// env is the wiring shared by every database-backed command.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dbURL := databaseURLFlag
	if dbURL == "" {
		if dbURL, err = config.DatabaseURL(); err != nil {
			return nil, err
		}
	}
	dbCfg := database.DefaultConfig()
	dbCfg.URL = dbURL
	dbCfg.MaxConnections = 5
	dbCfg.MaxIdleConnections = 2
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (e *env) runtime() *app.Runtime {
	deliverer := discord.NewClient(e.cfg.Discord.APIBase, e.cfg.Discord.BotToken, logging.Component(e.logger, "discord"))
	return app.New(e.cfg, database.NewRepositories(e.db), deliverer, e.logger)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.db.Close()

	results, err := e.runtime().SyncBatch(cmd.Context(), tenantFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"success": true, "results": results})
}

func runSweep(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.db.Close()

	fired, err := e.runtime().Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fired %d time rules\n", fired)
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.db.Close()

	res, err := e.runtime().Drain(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "claimed %d, sent %d, failed %d\n", res.Claimed, res.Sent, res.Failed)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.db.Close()

	source := database.MigrationSource(e.cfg.Database.MigrationsDir, migrations.FS)
	n, err := database.RunMigrations(cmd.Context(), e.db, source, e.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl, err := time.ParseDuration(tokenTTLFlag)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid --ttl %q", tokenTTLFlag)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token, err := auth.GenerateToken(args[0], cfg.Auth.InternalSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
