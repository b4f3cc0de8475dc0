// Command scheduler is the TripWatch scheduler CLI. It runs the scheduler as
// a standalone worker, fires a single manual pass, and manages migrations.
//
// Usage:
//
//	tripwatch-scheduler run
//	tripwatch-scheduler run --interval 30
//	tripwatch-scheduler pass
//	tripwatch-scheduler migrate up
//	tripwatch-scheduler migrate status
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kmfinlay/tripwatch/internal/config"
	"github.com/kmfinlay/tripwatch/internal/db"
	"github.com/kmfinlay/tripwatch/internal/notify"
	"github.com/kmfinlay/tripwatch/internal/schedule"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "tripwatch-scheduler",
		Short: "TripWatch trip safety scheduler CLI",
	}

	root.AddCommand(runCmd())
	root.AddCommand(passCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var intervalSec int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler worker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				evaluator, err := buildEvaluator(cfg, pool)
				if err != nil {
					return err
				}

				interval := cfg.SchedulerInterval
				if intervalSec > 0 {
					interval = time.Duration(intervalSec) * time.Second
				}

				go schedule.StartMaintenance(ctx, pool.Pool, schedule.DefaultMaintenanceConfig(), logger)
				schedule.StartWorker(ctx, evaluator, interval, logger)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "Pass interval in seconds (default from SCHEDULER_INTERVAL_SECONDS)")
	return cmd
}

// --------------------------------------------------------------------------
// pass command
// --------------------------------------------------------------------------

func passCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pass",
		Short: "Run a single scheduler pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				evaluator, err := buildEvaluator(cfg, pool)
				if err != nil {
					return err
				}

				start := time.Now()
				result := evaluator.RunPass(ctx)
				logger.Info("Pass finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("pass error", "error", e)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.MigrateStatus(cfg.DatabaseURL)
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// buildEvaluator wires the delivery channels and pass evaluator.
func buildEvaluator(cfg *config.Config, pool *db.Pool) (*schedule.Evaluator, error) {
	push, err := notify.NewPushSender(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}

	var email notify.EmailSender
	if cfg.SMTPAddr != "" {
		email, err = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
		if err != nil {
			return nil, fmt.Errorf("create SMTP sender: %w", err)
		}
	} else {
		email = notify.NewLogEmailSender(logger)
	}

	dispatcher, err := notify.NewDispatcher(push, email, cfg.TripTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	return schedule.NewEvaluator(
		trip.NewStore(pool.Pool), dispatcher, logger,
		schedule.WithWorkers(cfg.SchedulerWorkers),
		schedule.WithTripTimeout(cfg.TripTimeout),
	), nil
}

// withPool handles config loading, DB connection, and context cancellation.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
