package engine

import (
	"context"
	"time"
)

// PeriodicOpts configures the re-run loop.
type PeriodicOpts struct {
	Interval time.Duration // how often to re-run (default 10m)
}

// RunPeriodic runs the pipeline at once and then on every tick, storing
// each report. Re-runs against a converged fabric change nothing, so the
// loop repairs drift such as a replaced switch.
//
// Runs until ctx is cancelled.
func (r *Runner) RunPeriodic(ctx context.Context, store *Store, opts PeriodicOpts) {
	interval := opts.Interval
	if interval == 0 {
		interval = 10 * time.Minute
	}

	r.log.Infow("periodic runs started", "interval", interval)
	r.runAndStore(ctx, store)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("periodic runs stopped")
			return
		case <-ticker.C:
			r.runAndStore(ctx, store)
		}
	}
}

func (r *Runner) runAndStore(ctx context.Context, store *Store) {
	res, plan, err := r.Run(ctx)
	if err != nil {
		r.log.Errorw("run not started", "error", err)
		return
	}
	if err := store.Save(res, plan); err != nil {
		r.log.Warnw("failed to save run report", "error", err)
	}
}
