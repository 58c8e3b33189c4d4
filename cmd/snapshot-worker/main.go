package main

import (
	"context"
	"os"
	"time"

	"splittrip/internal/cli"
	"splittrip/internal/export"
	"splittrip/internal/metrics"
	"splittrip/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, "snapshot")

	logger.Info("Starting snapshot-worker")

	ctx := context.Background()
	st, cleanup := cli.OpenStore(ctx, logger, cfg)

	csvDir, err := export.NewCSVDir(cfg.ExportDir)
	if err != nil {
		logger.Error("Failed to initialize export directory",
			"error", err,
			"dir", cfg.ExportDir)
		os.Exit(1)
	}

	processor := services.NewSnapshotProcessor(st, csvDir, metrics.New(), services.SnapshotConfig{
		Interval:    cfg.SnapshotInterval,
		Concurrency: cfg.SnapshotConcurrency,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Snapshot processor stop error", "error", err)
		}
		if cleanup != nil {
			if err := cleanup(); err != nil {
				logger.Error("Storage cleanup error", "error", err)
			}
		}
	})

	if err := processor.Start(shutdownCtx); err != nil {
		logger.Error("Failed to start snapshot processor", "error", err)
		os.Exit(1)
	}

	logger.Info("Snapshot processor running",
		"interval", cfg.SnapshotInterval,
		"concurrency", cfg.SnapshotConcurrency,
		"export_dir", cfg.ExportDir)

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Snapshot-worker stopped gracefully")
}
