package schedule

import (
	"context"
	"log/slog"
	"time"
)

// StartWorker runs the periodic driver: one scheduler pass per interval.
// Blocks until ctx is cancelled. Intended to be called with `go`.
//
// Passes are serialized here; even so, every flag commit is a conditional
// update, so an operator running a manual pass concurrently (cmd/scheduler
// pass) cannot cause duplicate notifications.
func StartWorker(ctx context.Context, evaluator *Evaluator, interval time.Duration, logger *slog.Logger) {
	logger.Info("Trip scheduler worker started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result := evaluator.RunPass(ctx)
			for _, errMsg := range result.Errors {
				logger.Error("pass error", "error", errMsg)
			}
		case <-ctx.Done():
			logger.Info("Trip scheduler worker stopped")
			return
		}
	}
}
