package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paysched/internal/amqp"
	"paysched/internal/auth"
	"paysched/internal/cli"
	apphttp "paysched/internal/http"
	"paysched/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	// Setup structured logging
	logger := cli.SetupLogger()

	logger.Info("Starting paysched")

	// Load and validate configuration
	cfg := cli.LoadAndValidateConfig(logger)

	// Initialize SQLite repository
	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Initialize auth and seed the first admin on an empty database
	authSvc := auth.NewService(repo, cfg.SessionTTL)
	if err := authSvc.EnsureDefaultAdmin(context.Background()); err != nil {
		logger.Error("Failed to ensure admin user", "error", err)
		os.Exit(1)
	}

	// Initialize AMQP client for publishing payroll events
	// The paysched-worker consumes these and mirrors paid payouts
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized - paid payouts will mirror via paysched-worker")
		}
	} else {
		logger.Info("AMQP disabled - paid payouts will not be mirrored")
	}

	exports := services.NewExportService(repo)
	payroll := services.NewPayrollService(repo, amqpClient, exports, cfg.ExportDir)
	imports := services.NewImportService(repo)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		BaseCurrency:   cfg.BaseCurrency,
		SessionSecure:  cfg.SessionSecure,
		TrustedProxies: cfg.TrustedProxies,
	}, repo, authSvc, payroll, exports, imports)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired sessions pile up otherwise; purge hourly
	go authSvc.PurgeLoop(ctx, time.Hour)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting paysched server", "port", cfg.Port, "db", cfg.SQLiteDBPath, "currency", cfg.BaseCurrency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
