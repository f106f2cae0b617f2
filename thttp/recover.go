package thttp

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/ridge/harbor/tlog"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// runTask executes the task in the current goroutine, recovering from panics.
// A panic is returned as ErrPanic.
func runTask(ctx context.Context, task parallel.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			panicErr := parallel.ErrPanic{Value: p, Stack: debug.Stack()}
			err = panicErr
		}
	}()
	return task(ctx)
}

// Recover is a middleware that catches and logs panics from HTTP handlers,
// responding with 500 if the response is not started yet.
//
// http.ErrAbortHandler is passed through to abort the response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var status int
		cw := CaptureStatus(w, &status)
		err := runTask(r.Context(), func(ctx context.Context) error {
			next.ServeHTTP(cw, r)
			return nil
		})
		if err == nil {
			return
		}
		if errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}

		var panicErr parallel.ErrPanic
		errors.As(err, &panicErr)
		tlog.Get(r.Context()).Error("Panic in HTTP handler", zap.Error(err), zap.ByteString("stack", panicErr.Stack))
		if status == 0 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
}
