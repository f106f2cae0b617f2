package thttp

import (
	"context"
	"net"
	"sync"
)

// connListener is a net.Listener fed with connections by the connector
type connListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	addr      net.Addr
}

func newConnListener(addr net.Addr) *connListener {
	return &connListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
		addr:   addr,
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.addr
}

// push hands the connection to the server
func (l *connListener) push(ctx context.Context, conn net.Conn) error {
	select {
	case l.conns <- conn:
		return nil
	case <-l.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type listenerAddr string

func (a listenerAddr) Network() string { return "connector" }
func (a listenerAddr) String() string  { return string(a) }
