// Command api is the TripWatch API server. It serves the trip endpoints and
// runs the safety scheduler worker and maintenance tickers in-process.
//
// Usage:
//
//	tripwatch-api
//	API_PORT=8080 tripwatch-api

// @title TripWatch API
// @version 1.0.0
// @description Trip safety scheduler API: trips, check-ins, check-outs, end votes, live location, and schedule previews.
// @host localhost:8000
// @schemes http https
// @contact.name TripWatch
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/kmfinlay/tripwatch/internal/api"
	"github.com/kmfinlay/tripwatch/internal/config"
	"github.com/kmfinlay/tripwatch/internal/db"
	"github.com/kmfinlay/tripwatch/internal/notify"
	"github.com/kmfinlay/tripwatch/internal/schedule"
	"github.com/kmfinlay/tripwatch/internal/trip"

	_ "github.com/kmfinlay/tripwatch/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Apply migrations before opening the pool
	if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
		logger.Error("Failed to apply migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Delivery channels
	push, err := notify.NewPushSender(cfg, logger)
	if err != nil {
		logger.Error("Failed to create push sender", "error", err)
		os.Exit(1)
	}
	var email notify.EmailSender
	if cfg.SMTPAddr != "" {
		email, err = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
		if err != nil {
			logger.Error("Failed to create SMTP sender", "error", err)
			os.Exit(1)
		}
		logger.Info("SMTP sender configured", "addr", cfg.SMTPAddr)
	} else {
		email = notify.NewLogEmailSender(logger)
		logger.Info("SMTP_ADDR not set, email deliveries go to the log")
	}

	dispatcher, err := notify.NewDispatcher(push, email, cfg.TripTimeout, logger)
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	// Start the scheduler worker
	evaluator := schedule.NewEvaluator(
		trip.NewStore(pool.Pool), dispatcher, logger,
		schedule.WithWorkers(cfg.SchedulerWorkers),
		schedule.WithTripTimeout(cfg.TripTimeout),
	)
	go schedule.StartWorker(ctx, evaluator, cfg.SchedulerInterval, logger)

	// Start maintenance tickers (cleanup, degraded-alert sweep)
	go schedule.StartMaintenance(ctx, pool.Pool, schedule.DefaultMaintenanceConfig(), logger)

	// Create router
	router := api.NewRouter(pool.Pool, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting TripWatch API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
