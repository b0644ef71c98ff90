package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "powctl",
	Short:        "powctl - operate the moderation sync pipeline",
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one ingestion and time-rule pass for one or all tenants",
	RunE:  runSync,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fire due time-interval rules across all tenants",
	RunE:  runSweep,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver outbound queue items until none are pending",
	RunE:  runDrain,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token <service>",
	Short: "Issue a service token for the internal sync endpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var (
	databaseURLFlag string
	tenantFlag      string
	tokenTTLFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURLFlag, "database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	syncCmd.Flags().StringVarP(&tenantFlag, "tenant", "t", "", "Sync only this tenant")
	tokenCmd.Flags().StringVar(&tokenTTLFlag, "ttl", "1h", "Token lifetime")
	rootCmd.AddCommand(syncCmd, sweepCmd, drainCmd, migrateCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
