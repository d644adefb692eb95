package fabric

import "context"

// Invoker runs a single switch call. The engine's implementation retries
// and records the outcome; Direct just calls through.
type Invoker interface {
	Invoke(ctx context.Context, sw, step string, fn func(context.Context) error) error
}

// Direct is an Invoker without retries or bookkeeping.
type Direct struct{}

func (Direct) Invoke(ctx context.Context, _, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
