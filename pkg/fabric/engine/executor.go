package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/glennswest/leafroute/pkg/fabric"
)

const (
	resultOK     = "ok"
	resultFailed = "failed"
)

// Executor runs switch calls with a bounded number of attempts at a fixed
// delay. It implements fabric.Invoker.
//
// An authentication failure is never retried and cancels the run through
// abort; every call made afterwards fails immediately.
type Executor struct {
	backoff wait.Backoff
	metrics *Metrics
	abort   context.CancelCauseFunc
	log     *zap.SugaredLogger
}

var _ fabric.Invoker = (*Executor)(nil)

// NewExecutor returns an Executor. abort and metrics may be nil.
func NewExecutor(attempts int, delay time.Duration, metrics *Metrics, abort context.CancelCauseFunc, log *zap.SugaredLogger) *Executor {
	if attempts < 1 {
		attempts = 1
	}
	return &Executor{
		backoff: wait.Backoff{
			Steps:    attempts,
			Duration: delay,
			Factor:   1.0,
		},
		metrics: metrics,
		abort:   abort,
		log:     log.Named("executor"),
	}
}

func (e *Executor) Invoke(ctx context.Context, sw, step string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &fabric.CommandError{Switch: sw, Step: step, Err: err}
	}

	attempts := 0
	err := retry.OnError(e.backoff, func(err error) bool { return retriable(ctx, err) }, func() error {
		attempts++
		if attempts > 1 {
			e.metrics.retry(step)
			e.log.Debugw("retrying", "switch", sw, "step", step, "attempt", attempts)
		}
		return fn(ctx)
	})
	if err == nil {
		e.metrics.command(step, resultOK)
		return nil
	}

	e.metrics.command(step, resultFailed)
	if fabric.IsAuthentication(err) {
		e.log.Errorw("authentication rejected, aborting run", "switch", sw, "step", step, "error", err)
		if e.abort != nil {
			e.abort(err)
		}
	} else {
		e.log.Warnw("command failed", "switch", sw, "step", step, "attempts", attempts, "error", err)
	}
	return &fabric.CommandError{Switch: sw, Step: step, Attempts: attempts, Err: err}
}

func retriable(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil:
		return false
	case fabric.IsAuthentication(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
