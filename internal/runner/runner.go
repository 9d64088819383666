// Package runner hands created runs to the execution backend. Execution
// itself happens outside this service: the backend appends to the run log
// and flips the started/done flags on its own schedule.
package runner

import (
	"context"
	"log/slog"
)

// Runner submits a run for asynchronous execution.
type Runner interface {
	Submit(ctx context.Context, runID int64) error
}

// LoggingRunner is the fallback used when no execution backend is
// configured. It records the submission and does nothing else, leaving the
// run pending.
type LoggingRunner struct {
	log *slog.Logger
}

func NewLoggingRunner(log *slog.Logger) *LoggingRunner {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingRunner{log: log}
}

func (r *LoggingRunner) Submit(ctx context.Context, runID int64) error {
	r.log.Info("run submitted without execution backend", "run_id", runID)
	return nil
}
