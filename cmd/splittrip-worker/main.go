package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"splittrip/internal/amqp"
	"splittrip/internal/cli"
	"splittrip/internal/export"
	"splittrip/internal/export/sheets"
	"splittrip/internal/metrics"
	"splittrip/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, "worker")

	logger.Info("Starting splittrip-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	// The CSV mirror is always on; the sheets mirror only when configured.
	csvTarget, err := export.NewCSVDir(cfg.ExportDir)
	if err != nil {
		logger.Error("Failed to initialize CSV export target",
			"error", err,
			"dir", cfg.ExportDir)
		os.Exit(1)
	}
	targets := []export.Target{csvTarget}

	if cfg.SheetsMirrorConfigured() {
		sheetsTarget, err := sheets.New(context.Background(), cfg)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets target", "error", err)
			os.Exit(1)
		}
		targets = append(targets, sheetsTarget)
		logger.Info("Google Sheets mirror enabled",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleSheetName)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	mirror := worker.NewMirrorWorker(targets, metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- amqpClient.ConsumeExpenseEvents(ctx, func(ev *amqp.ExpenseEvent) error {
			return mirror.HandleEvent(ctx, ev)
		})
	}()

	logger.Info("Worker consuming expense events",
		"queue", cfg.AMQPQueue,
		"targets", len(targets))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		// Give the consumer time to finish the delivery in flight.
		select {
		case <-consumeErr:
		case <-time.After(5 * time.Second):
			logger.Warn("Shutdown timeout reached")
		}
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", "error", err)
		}
		cancel()
	}

	if err := amqpClient.Close(); err != nil {
		logger.Error("AMQP close error", "error", err)
	}
	logger.Info("Worker shutdown complete")
}
