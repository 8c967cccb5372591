// Package schedule runs the engine's periodic sweeps: funding settlement
// and liquidation checks.
package schedule

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner wraps a cron scheduler with the process base context.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a runner whose jobs receive baseCtx.
func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		baseCtx: baseCtx,
	}
}

// Add schedules a named job. Spec uses the six-field cron format with
// seconds, e.g. "0 */5 * * * *" for every five minutes.
func (r *Runner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if err := job(r.baseCtx); err != nil {
			slog.Error("scheduled job failed", "job", name, "err", err)
		}
	})
}

// Start begins executing scheduled jobs in the background.
func (r *Runner) Start() {
	slog.Info("scheduler started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}
