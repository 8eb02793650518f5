package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paysched/internal/amqp"
	"paysched/internal/backend"
	"paysched/internal/cli"
	"paysched/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	// Setup structured logging
	logger := cli.SetupLogger()

	logger.Info("Starting paysched-worker")

	// Load and validate configuration
	cfg := cli.LoadAndValidateConfig(logger)

	// Initialize SQLite repository to read pending payouts
	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Resolve the mirror backend from configuration (disabled, memory or sheets)
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid mirror backend configuration", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger)
	result, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize mirror backend", "error", err)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Mirror backend cleanup failed", "error", err)
			}
		}()
	}

	// Initialize AMQP client for consuming messages
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mirrorWorker *worker.MirrorWorker
	if result.Mirror != nil {
		mirrorWorker = worker.NewMirrorWorker(repo, result.Mirror, cfg.MirrorBatchSize)

		// On startup, catch payouts marked paid while the worker was down
		logger.Info("Performing startup mirror scan...")
		if err := mirrorWorker.StartupScan(ctx); err != nil {
			logger.Error("Failed startup mirror scan", "error", err)
			// Don't exit - continue with normal operation
		}
	} else {
		logger.Info("Mirroring disabled - payroll events will not be copied anywhere")
	}

	// Start message consumption only if we have a mirror worker
	if mirrorWorker != nil {
		go func() {
			if err := amqpClient.Consume(ctx, mirrorWorker.HandlePayoutSync, mirrorWorker.HandleRunCompleted); err != nil {
				if err != context.Canceled {
					logger.Error("Message consumption failed", "error", err)
				}
				cancel()
			}
		}()
	} else {
		logger.Info("Skipping AMQP message consumption - no mirror worker available")
	}

	// Setup periodic sweep for payouts whose messages were lost
	if mirrorWorker != nil {
		ticker := time.NewTicker(cfg.MirrorInterval)
		defer ticker.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := mirrorWorker.ProcessPendingPayouts(ctx); err != nil {
						logger.Error("Periodic mirror sweep failed", "error", err)
					}
				}
			}
		}()
	} else {
		logger.Info("Skipping periodic mirror sweep - no mirror worker available")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Give worker time to finish current operations
	logger.Info("Shutting down worker...")
	cancel()

	// Wait for shutdown or timeout
	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(5 * time.Second):
		logger.Info("Worker shutdown complete")
	}
}
