package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaintenanceConfig controls background housekeeping intervals. Zero
// duration disables a task.
type MaintenanceConfig struct {
	CleanupInterval  time.Duration // purge old log rows + stale live samples
	DegradedInterval time.Duration // sweep for long-unsent safety alerts
}

// DefaultMaintenanceConfig returns sensible production defaults.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		CleanupInterval:  30 * time.Minute,
		DegradedInterval: 15 * time.Minute,
	}
}

// StartMaintenance launches the housekeeping tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func StartMaintenance(ctx context.Context, pool *pgxpool.Pool, cfg MaintenanceConfig, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"degraded", cfg.DegradedInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { cleanup(ctx, pool, logger) })
	}

	if cfg.DegradedInterval > 0 {
		t := time.NewTicker(cfg.DegradedInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { degradedSweep(ctx, pool, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup purges notification log rows older than 30 days and live-location
// samples belonging to trips that reached a terminal state. Samples are
// only retained while a trip is active.
func cleanup(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM notification_log
		WHERE created_at < NOW() - INTERVAL '30 days'`)
	if err != nil {
		logger.Warn("Cleanup: failed to purge notification log", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("Cleanup: purged notification log rows", "count", tag.RowsAffected())
	}

	tag, err = pool.Exec(ctx, `
		DELETE FROM location_samples ls
		USING trips t
		WHERE t.id = ls.trip_id
		  AND t.status IN ('completed','cancelled')`)
	if err != nil {
		logger.Warn("Cleanup: failed to purge live samples", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("Cleanup: purged terminal-trip live samples", "count", tag.RowsAffected())
	}
}

// degradedSweep finds trips whose overdue deadline passed a while ago with
// the contact alert still unsent. Transient failures are expected to clear
// within a pass or two; anything older is logged as degraded so it is never
// silently dropped. The naive eta_at is compared in server time here, which
// is close enough for a log-only sweep.
func degradedSweep(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	rows, err := pool.Query(ctx, `
		SELECT id, eta_at + make_interval(mins => grace_minutes)
		FROM trips
		WHERE status = 'overdue'
		  AND overdue_alert_sent = FALSE
		  AND eta_at + make_interval(mins => grace_minutes) < NOW() - INTERVAL '15 minutes'`)
	if err != nil {
		logger.Warn("Degraded sweep failed", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var deadline time.Time
		if err := rows.Scan(&id, &deadline); err != nil {
			logger.Warn("Degraded sweep scan failed", "error", err)
			return
		}
		logger.Error("DEGRADED: overdue alert still unsent",
			"trip_id", id, "deadline", deadline)
	}
	if err := rows.Err(); err != nil {
		logger.Warn("Degraded sweep failed", "error", err)
	}
}
