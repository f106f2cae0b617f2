// Package retry runs operations until they succeed or a delay sequence ends
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
)

// DelayFn returns the delay before the next attempt on every call. ok=false
// ends the sequence: no more attempts should be made and the function should
// not be called again.
//
// The first call returns the delay before the first attempt and is always ok.
type DelayFn func() (delay time.Duration, ok bool)

// Config describes a sequence of delays between attempts
type Config interface {
	// Delays starts a new independent sequence
	Delays() DelayFn
}

// FixedConfig retries with a constant delay
type FixedConfig struct {
	// TryAfter is the delay before the first attempt
	TryAfter time.Duration

	// RetryAfter is the delay before every next attempt
	RetryAfter time.Duration

	// MaxAttempts limits the number of attempts, 0 for no limit
	MaxAttempts int
}

// Delays implements Config
func (c FixedConfig) Delays() DelayFn {
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		switch {
		case attempts == 1:
			return c.TryAfter, true
		case c.MaxAttempts != 0 && attempts > c.MaxAttempts:
			return 0, false
		default:
			return c.RetryAfter, true
		}
	}
}

// ErrRetriable wraps an error that should cause another attempt
type ErrRetriable struct {
	err error
}

func (r ErrRetriable) Error() string {
	return r.err.Error()
}

// Unwrap returns the wrapped error
func (r ErrRetriable) Unwrap() error {
	return r.err
}

// Retriable marks err for Do to try again. Retriable(nil) is nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return ErrRetriable{err: err}
}

// Do calls f after each delay of c until f returns nil or an error not
// marked with Retriable. When the delays run out, the last retriable error
// is returned unwrapped. A closed context stops the attempts with the
// context error.
//
// Repeated identical failures are logged once.
func Do(ctx context.Context, c Config, f func() error) error {
	startedAt := time.Now()
	delays := c.Delays()
	var last ErrRetriable
	var lastMessage string
	for attempt := 1; ; attempt++ {
		logger := tlog.Get(ctx).With(zap.Int("attempt", attempt))

		delay, ok := delays()
		if !ok {
			if attempt == 1 {
				panic("retry: delay sequence is empty")
			}
			logger.Debug("Giving up", zap.Error(last.err), zap.Duration("duration", time.Since(startedAt)))
			return last.err
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}

		err := f()
		if !errors.As(err, &last) {
			if attempt > 1 && err == nil {
				logger.Debug("Retry succeeded", zap.Duration("duration", time.Since(startedAt)))
			}
			return err
		}
		if ctx.Err() != nil && errors.Is(last.err, ctx.Err()) {
			return last.err
		}
		if msg := last.err.Error(); msg != lastMessage {
			logger.Debug("Will retry", zap.Error(last.err))
			lastMessage = msg
		}
	}
}
