package main

import (
	"fmt"
	"os"

	"github.com/route-beacon/bird-ingester/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bird-ingester",
		Short:         "Snapshot BIRD routing tables into Postgres and Kafka",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to configuration YAML file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newMaintenanceCommand(opts),
		newDecodeCommand(),
	)
	return root
}

// load reads the configuration and builds the logger it asks for.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Service.LogLevel = o.logLevel
	}
	logger, err := initLogger(cfg.Service.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
