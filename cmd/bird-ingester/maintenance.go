package main

import (
	"fmt"

	"github.com/route-beacon/bird-ingester/internal/db"
	"github.com/route-beacon/bird-ingester/internal/maintenance"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMaintenanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run partition maintenance (create new, drop old, purge raw replies)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("running partition maintenance",
				zap.Int("retention_days", cfg.Retention.Days),
				zap.String("timezone", cfg.Retention.Timezone),
			)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger)
			if err := pm.Run(ctx); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			logger.Info("partition maintenance complete")
			return nil
		},
	}
}
