package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/route-beacon/bird-ingester/internal/birdc"
	"github.com/route-beacon/bird-ingester/internal/config"
	"github.com/route-beacon/bird-ingester/internal/db"
	"github.com/route-beacon/bird-ingester/internal/history"
	birdhttp "github.com/route-beacon/bird-ingester/internal/http"
	"github.com/route-beacon/bird-ingester/internal/kafka"
	"github.com/route-beacon/bird-ingester/internal/maintenance"
	"github.com/route-beacon/bird-ingester/internal/metrics"
	"github.com/route-beacon/bird-ingester/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	maintenanceInterval = time.Hour
	kafkaHealthInterval = 10 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	metrics.Register()

	logger.Info("starting bird-ingester",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("socket_path", cfg.Bird.SocketPath),
		zap.Strings("tables", cfg.Bird.Tables),
	)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Ensure partitions exist on startup.
	pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger.Named("maintenance"))
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating partitions on startup: %w", err)
	}

	// --- Kafka publisher ---
	var (
		publisher    *kafka.Publisher
		eventSink    history.EventPublisher
		publishReady birdhttp.ReadinessSource
	)
	if cfg.Kafka.Enabled {
		tlsCfg, err := cfg.Kafka.BuildTLSConfig()
		if err != nil {
			return fmt.Errorf("building kafka TLS config: %w", err)
		}
		publisher, err = kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
			Linger:   time.Duration(cfg.Kafka.LingerMs) * time.Millisecond,
			TLS:      tlsCfg,
			SASL:     cfg.Kafka.BuildSASLMechanism(),
		}, logger.Named("kafka"))
		if err != nil {
			return err
		}
		defer publisher.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, kafkaHealthInterval)
		if err := publisher.Ping(pingCtx); err != nil {
			logger.Warn("kafka brokers not reachable yet", zap.Error(err))
		}
		pingCancel()

		eventSink = publisher
		publishReady = publisher
	}

	// --- History pipeline ---
	historyPipeline := history.NewPipeline(history.PipelineConfig{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: time.Duration(cfg.Ingest.FlushIntervalMs) * time.Millisecond,
		BufferSize:    cfg.Ingest.ChannelBufferSize,
		StoreRaw:      cfg.Ingest.StoreRawReplies,
		CompressRaw:   cfg.Ingest.CompressRawReplies,
	}, history.NewWriter(pool, logger.Named("history.writer")), eventSink, logger.Named("history.pipeline"))

	// --- Poller ---
	client := birdc.NewClient(cfg.Bird.SocketPath, birdc.WithMaxReplyBytes(cfg.Bird.MaxReplyBytes))
	pollerCfg := state.PollerConfig{
		Tables:         cfg.Bird.Tables,
		Interval:       cfg.Bird.PollInterval(),
		QueryTimeout:   cfg.Bird.QueryTimeout(),
		MaxConcurrency: cfg.Bird.MaxConcurrentQueries,
		RouterID:       cfg.Bird.RouterID,
		SocketPath:     cfg.Bird.SocketPath,
		Metadata: func(routerID string) (string, string) {
			meta, _ := cfg.RouterMetaFor(routerID)
			return meta.Name, meta.Location
		},
	}
	poller := state.NewPoller(pollerCfg, client, state.NewWriter(pool, logger.Named("state.writer")),
		historyPipeline, logger.Named("state.poller"))

	// Pipelines get their own context so the history pipeline can flush
	// after the poller has stopped.
	pipeCtx, pipeCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pipeCancel()

	var pollWg, pipeWg sync.WaitGroup
	pipeWg.Add(1)
	go func() { defer pipeWg.Done(); historyPipeline.Run(pipeCtx) }()
	pollWg.Add(2)
	go func() { defer pollWg.Done(); poller.Run(ctx) }()
	go func() { defer pollWg.Done(); pm.RunPeriodic(ctx, maintenanceInterval) }()
	if publisher != nil {
		pollWg.Add(1)
		go func() { defer pollWg.Done(); publisher.Monitor(ctx, kafkaHealthInterval) }()
	}

	logger.Info("poller started",
		zap.Duration("interval", pollerCfg.Interval),
		zap.Int("max_concurrent_queries", pollerCfg.MaxConcurrency),
	)

	// --- HTTP server ---
	httpServer := birdhttp.NewServer(cfg.Service.HTTPListen, pool, client, poller, publishReady,
		cfg.Bird.QueryTimeout(), logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		pollWg.Wait()
		pipeCancel()
		pipeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all pipelines stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("bird-ingester stopped")
	return nil
}
