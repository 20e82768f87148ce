package main

import (
	"context"
	"time"

	"crm-reminders/internal/common/database"
	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the reminders table and its indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts)
		},
	}
}

func runMigrate(ctx context.Context, rootOpts *rootOptions) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	if err := pingWithRetry(ctx, pg, 5, 2*time.Second, zapLog, "PostgreSQL connection"); err != nil {
		return err
	}
	defer pg.Close()

	if err := repository.Migrate(ctx, pg.DB); err != nil {
		return err
	}

	zapLog.Info("migrations applied", zap.String("database", cfg.Database.Postgres.Database))
	return nil
}
