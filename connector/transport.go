package connector

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ridge/harbor/tlog"
	"github.com/ridge/harbor/tnet"
	"go.uber.org/zap"
)

// Transport is the source of connections of a Connector
type Transport interface {
	// Open prepares the transport for accepting. Called on connector start.
	Open(ctx context.Context) error

	// Accept waits for the next connection. After Close it returns an
	// error satisfying tnet.IsShutdownError.
	Accept(ctx context.Context, slot int) (net.Conn, error)

	// SetAccepting(false) makes pending and further Accept calls return
	// os.ErrDeadlineExceeded until SetAccepting(true)
	SetAccepting(accepting bool)

	// Close releases the transport. Called on connector stop.
	Close() error

	// Addr returns the address connections are accepted on, nil if closed
	Addr() net.Addr
}

// ListenerTransport accepts connections from a listening socket
type ListenerTransport struct {
	address string
	listen  tnet.ListenOptions
	tune    tnet.TuneOptions

	mu       sync.Mutex
	listener net.Listener
}

// NewListenerTransport creates a transport listening on the address, see
// tnet.Listen for the format
func NewListenerTransport(address string, listen tnet.ListenOptions, tune tnet.TuneOptions) *ListenerTransport {
	return &ListenerTransport{address: address, listen: listen, tune: tune}
}

// NewServerConnector creates a connector accepting TCP or Unix socket
// connections on the address
func NewServerConnector(address string, config Config) *Connector {
	return New(NewListenerTransport(address, tnet.ListenOptions{}, tnet.DefaultTuneOptions), config)
}

// Open implements Transport
func (t *ListenerTransport) Open(ctx context.Context) error {
	l, err := tnet.ListenWith(ctx, t.address, t.listen)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.listener = l
	return nil
}

func (t *ListenerTransport) get() net.Listener {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.listener
}

// Accept implements Transport
func (t *ListenerTransport) Accept(ctx context.Context, slot int) (net.Conn, error) {
	l := t.get()
	if l == nil {
		return nil, net.ErrClosed
	}
	conn, err := l.Accept()
	if err != nil {
		return nil, err
	}
	if err := tnet.Tune(conn, t.tune); err != nil {
		tlog.Get(ctx).Debug("Failed to tune connection", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
	return conn, nil
}

// SetAccepting implements Transport
func (t *ListenerTransport) SetAccepting(accepting bool) {
	l, ok := t.get().(interface{ SetDeadline(time.Time) error })
	if !ok {
		return
	}
	if accepting {
		_ = l.SetDeadline(time.Time{})
	} else {
		_ = l.SetDeadline(time.Now())
	}
}

// Close implements Transport
func (t *ListenerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

// Addr implements Transport
func (t *ListenerTransport) Addr() net.Addr {
	l := t.get()
	if l == nil {
		return nil
	}
	return l.Addr()
}

type localAddr struct{}

func (localAddr) Network() string { return "local" }
func (localAddr) String() string  { return "local" }

// LocalTransport accepts in-memory connections made with Dial
type LocalTransport struct {
	conns chan net.Conn

	mu     sync.Mutex
	closed chan struct{}
	wake   chan struct{}
	paused bool
}

// NewLocalTransport creates a LocalTransport
func NewLocalTransport() *LocalTransport {
	closed := make(chan struct{})
	close(closed)
	return &LocalTransport{conns: make(chan net.Conn), closed: closed}
}

// NewLocalConnector creates a connector accepting connections made with
// Dial of the returned transport
func NewLocalConnector(config Config) (*Connector, *LocalTransport) {
	t := NewLocalTransport()
	return New(t, config), t
}

// Open implements Transport
func (t *LocalTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = make(chan struct{})
	t.wake = make(chan struct{})
	t.paused = false
	return nil
}

// Accept implements Transport
func (t *LocalTransport) Accept(ctx context.Context, slot int) (net.Conn, error) {
	t.mu.Lock()
	closed, wake, paused := t.closed, t.wake, t.paused
	t.mu.Unlock()

	if paused {
		return nil, os.ErrDeadlineExceeded
	}
	select {
	case conn := <-t.conns:
		return conn, nil
	case <-closed:
		return nil, net.ErrClosed
	case <-wake:
		return nil, os.ErrDeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetAccepting implements Transport
func (t *LocalTransport) SetAccepting(accepting bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !accepting && !t.paused:
		t.paused = true
		if t.wake != nil {
			close(t.wake)
		}
	case accepting && t.paused:
		t.paused = false
		t.wake = make(chan struct{})
	}
}

// Close implements Transport
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

// Addr implements Transport
func (t *LocalTransport) Addr() net.Addr {
	return localAddr{}
}

// Dial connects to the transport. Blocks until an acceptor takes the
// connection.
func (t *LocalTransport) Dial(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	client, server := net.Pipe()
	select {
	case t.conns <- server:
		return client, nil
	case <-closed:
		_ = client.Close()
		_ = server.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}
