package connector

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/ridge/harbor/tlog"
	"github.com/ridge/harbor/tnet"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// ErrExecutorClosed is returned by executors that no longer accept tasks
var ErrExecutorClosed = errors.New("executor is closed")

// Executor runs acceptors and connections
type Executor interface {
	// Execute runs the task asynchronously. The task's error is the
	// executor's business: the caller is not notified.
	Execute(ctx context.Context, name string, task parallel.Task) error
}

// GoExecutor runs every task in its own goroutine, logging errors and panics
type GoExecutor struct {
	mu      sync.Mutex
	closed  bool
	running int
	idle    chan struct{} // closed while no task is running
}

// NewGoExecutor creates a GoExecutor
func NewGoExecutor() *GoExecutor {
	idle := make(chan struct{})
	close(idle)
	return &GoExecutor{idle: idle}
}

// Execute implements Executor
func (e *GoExecutor) Execute(ctx context.Context, name string, task parallel.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}
	if e.running == 0 {
		e.idle = make(chan struct{})
	}
	e.running++
	go func() {
		defer e.done()

		logger := tlog.Get(ctx).With(zap.String("task", name))
		err := runTask(tlog.WithLogger(ctx, logger), task)
		var panicErr parallel.ErrPanic
		switch {
		case err == nil, errors.Is(err, context.Canceled), tnet.IsShutdownError(err):
		case errors.As(err, &panicErr):
			logger.Error("Task panicked", zap.Any("panic", panicErr.Value), zap.ByteString("stack", panicErr.Stack))
		default:
			logger.Debug("Task failed", zap.Error(err))
		}
	}()
	return nil
}

// Close rejects further tasks
func (e *GoExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
}

func (e *GoExecutor) done() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running--
	if e.running == 0 {
		close(e.idle)
	}
}

// Running returns the number of running tasks
func (e *GoExecutor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// Wait waits for running tasks to finish or ctx to close
func (e *GoExecutor) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runTask executes the task in the current goroutine, recovering from panics.
// A panic is returned as ErrPanic.
func runTask(ctx context.Context, task parallel.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = parallel.ErrPanic{Value: p, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}
