// Package tcontext contains context helpers for components whose lifetime
// is independent of the call that started them.
package tcontext

import (
	"context"
	"time"
)

// Reopen returns a context carrying the values of ctx, including the
// logger, but never closed and without a deadline. ctx may already be
// closed.
func Reopen(ctx context.Context) context.Context {
	return reopened{Context: ctx}
}

type reopened struct {
	context.Context //nolint:containedctx // wraps the parent for its values
}

func (reopened) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (reopened) Done() <-chan struct{} {
	return nil
}

func (reopened) Err() error {
	return nil
}

// Detach returns a context with the values of ctx that lives until cancel
// is called. Components use it in Start for the work that outlives the
// starting call.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(Reopen(ctx))
}

// WithOptionalTimeout bounds ctx by timeout if it is positive
func WithOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
