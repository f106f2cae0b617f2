package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoExecutorWait(t *testing.T) {
	t.Parallel()

	ctx := test.Context(t)
	e := NewGoExecutor()
	require.NoError(t, e.Wait(ctx))

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Execute(ctx, "blocked", func(ctx context.Context) error {
			<-release
			return nil
		}))
	}
	assert.Equal(t, 3, e.Running())

	for i := 0; i < 100; i++ {
		waitCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
		require.ErrorIs(t, e.Wait(waitCtx), context.DeadlineExceeded)
		cancel()
	}

	close(release)
	require.NoError(t, e.Wait(ctx))
	assert.Zero(t, e.Running())

	require.NoError(t, e.Execute(ctx, "panic", func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, e.Wait(ctx))
	assert.Zero(t, e.Running())

	e.Close()
	require.True(t, errors.Is(e.Execute(ctx, "late", func(ctx context.Context) error { return nil }), ErrExecutorClosed))
}
