package main

import (
	"fmt"

	"github.com/route-beacon/bird-ingester/internal/db"
	"github.com/route-beacon/bird-ingester/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			if err := db.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("migrations complete")
			return nil
		},
	}
}
