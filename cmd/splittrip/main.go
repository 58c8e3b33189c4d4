package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"splittrip/internal/amqp"
	"splittrip/internal/auth"
	"splittrip/internal/cli"
	apphttp "splittrip/internal/http"
	"splittrip/internal/metrics"
	"splittrip/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, "api")

	ctx := context.Background()
	st, cleanup := cli.OpenStore(ctx, logger, cfg)

	// Event publishing is optional. Without a broker, expenses are only
	// mirrored by the snapshot worker reading storage directly.
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			publisher = amqpClient
			logger.Info("AMQP client initialized",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, expense events will not be published")
	}

	var tokens *auth.JWTManager
	if cfg.AuthEnabled() {
		tokens = auth.NewJWTManager(cfg.AuthSecret, cfg.AuthTokenTTL)
		logger.Info("PIN login enabled", "token_ttl", cfg.AuthTokenTTL)
	} else {
		logger.Info("PIN login disabled, all routes are open")
	}

	m := metrics.New()
	service := services.NewTripService(st, services.Options{
		Publisher: publisher,
		Tokens:    tokens,
		Metrics:   m,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})

	srv := apphttp.NewServer(cfg, service, tokens, logger, m)

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", "error", err)
			}
		}
		if cleanup != nil {
			if err := cleanup(); err != nil {
				logger.Error("Storage cleanup error", "error", err)
			}
		}
	})

	logger.Info("Starting splittrip server",
		"port", cfg.Port,
		"backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
