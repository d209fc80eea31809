package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ayush/finalapi/internal/config"
	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run all pending migrations against the PostgreSQL database named by POSTGRES_DSN.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadMigrate(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Println("Connecting to database...")
	pool, err := store.ConnectPostgres(ctx, cfg.PostgresDSN, logging.Setup("finalapi", "text", cmd.ErrOrStderr()))
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	cmd.Println("Running migrations...")
	if err := store.MigratePool(ctx, pool); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
