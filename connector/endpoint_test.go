package connector

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ridge/harbor/test"
	"github.com/ridge/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixConn(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	prefix := []byte("hello ")
	conn := NewPrefixConn(server, prefix)
	prefix[0] = 'j'
	assert.Same(t, server, conn.NetConn())

	go func() {
		_, _ = client.Write([]byte("world"))
		_ = client.Close()
	}()
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestEndpointUpgrade(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	ep := newEndpoint(nil, server, 0)
	assert.Nil(t, ep.TLS())

	prefixed := NewPrefixConn(server, []byte("x"))
	ep.Upgrade(prefixed)
	assert.Same(t, prefixed, ep.Conn())

	buf := make([]byte, 1)
	_, err := ep.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	assert.True(t, ep.Closed())
	select {
	case <-ep.Done():
	default:
		t.Fatal("endpoint is not done")
	}

	// upgrading a closed endpoint closes the new layer
	_, server2 := net.Pipe()
	ep.Upgrade(server2)
	_, err = server2.Write([]byte("y"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestEndpointActivity(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	ep := newEndpoint(nil, server, 0)
	defer ep.Close()

	opened := ep.LastActive()
	assert.True(t, ep.Opened().Equal(opened))
	time.Sleep(10 * time.Millisecond)

	go func() {
		_, _ = client.Write([]byte("a"))
	}()
	_, err := ep.Read(make([]byte, 1))
	require.NoError(t, err)
	assert.True(t, ep.LastActive().After(opened))
}

func TestGoExecutor(t *testing.T) {
	t.Parallel()

	ctx := test.Context(t)
	e := NewGoExecutor()
	done := make(chan struct{})
	require.NoError(t, e.Execute(ctx, "panic", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	}))
	<-done
	require.NoError(t, e.Wait(ctx))

	e.Close()
	require.ErrorIs(t, e.Execute(ctx, "late", func(ctx context.Context) error { return nil }), ErrExecutorClosed)
}

func TestRunTask(t *testing.T) {
	t.Parallel()

	err := runTask(test.Context(t), func(ctx context.Context) error {
		panic("boom")
	})
	var panicErr parallel.ErrPanic
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestDefaultAcceptors(t *testing.T) {
	t.Parallel()

	n := DefaultAcceptors()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}
