package connector

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/require"
)

type testFactory struct {
	Base
	lifecycle.Machine

	next  []string
	serve func(ctx context.Context, c *Connector, ep *Endpoint) error
}

func newFactory(protocol string, aliases ...string) *testFactory {
	return &testFactory{Base: NewBase(protocol, aliases...)}
}

func (f *testFactory) Start(ctx context.Context) error {
	return f.Machine.Start(ctx, nil)
}

func (f *testFactory) Stop(ctx context.Context) error {
	return f.Machine.Stop(ctx, nil)
}

func (f *testFactory) NewConnection(c *Connector, ep *Endpoint) (Connection, error) {
	return ConnectionFunc(func(ctx context.Context) error {
		if f.serve != nil {
			return f.serve(ctx, c, ep)
		}
		return echo(ctx, c, ep)
	}), nil
}

type chainedFactory struct {
	*testFactory
}

func (f chainedFactory) NextProtocols() []string {
	return f.next
}

func newChained(protocol string, next ...string) chainedFactory {
	f := chainedFactory{testFactory: newFactory(protocol)}
	f.next = next
	f.serve = func(ctx context.Context, c *Connector, ep *Endpoint) error {
		conn, err := c.NewConnection(next[0], ep)
		if err != nil {
			return err
		}
		return conn.Serve(ctx)
	}
	return f
}

func echo(ctx context.Context, c *Connector, ep *Endpoint) error {
	_, err := io.Copy(ep, ep)
	return err
}

func block(ctx context.Context, c *Connector, ep *Endpoint) error {
	select {
	case <-ep.Done():
	case <-ctx.Done():
	}
	return nil
}

func startLocal(t *testing.T, config Config) (*Connector, *LocalTransport) {
	c, transport := NewLocalConnector(config)
	ctx := test.Context(t)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, c.Stop(ctx))
	})
	return c, transport
}

func dial(t *testing.T, transport *LocalTransport) net.Conn {
	ctx, cancel := context.WithTimeout(test.Context(t), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg string) {
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}

// stubTransport accepts nothing: Accept calls fn
type stubTransport struct {
	fn func(ctx context.Context) (net.Conn, error)
}

func (t *stubTransport) Open(ctx context.Context) error { return nil }

func (t *stubTransport) Accept(ctx context.Context, slot int) (net.Conn, error) {
	return t.fn(ctx)
}

func (t *stubTransport) SetAccepting(accepting bool) {}
func (t *stubTransport) Close() error               { return nil }
func (t *stubTransport) Addr() net.Addr             { return localAddr{} }

// gateTransport pauses like ListenerTransport: Accept fails with a deadline
// error while paused. Pausing is slow.
type gateTransport struct {
	stubTransport

	mu      sync.Mutex
	paused  bool
	accepts atomic.Int64
	pausing chan struct{}
}

func (t *gateTransport) Accept(ctx context.Context, slot int) (net.Conn, error) {
	t.accepts.Add(1)
	if t.isPaused() {
		return nil, os.ErrDeadlineExceeded
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (t *gateTransport) SetAccepting(accepting bool) {
	if !accepting {
		select {
		case t.pausing <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = !accepting
}

func (t *gateTransport) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
