package connector

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Endpoint is an accepted connection as seen by protocol connections.
//
// The bytes flow through the current layer: the accepted connection
// initially, replaced by decrypting or otherwise wrapping connections with
// Upgrade. Reads and writes mark the endpoint active for the idle timeout.
type Endpoint struct {
	id        string
	slot      int
	connector *Connector
	opened    time.Time

	mu       sync.Mutex
	layer    net.Conn
	protocol string

	lastActive atomic.Int64
	closeOnce  sync.Once
	closeErr   error
	done       chan struct{}
}

func newEndpoint(c *Connector, conn net.Conn, slot int) *Endpoint {
	now := time.Now()
	ep := &Endpoint{
		id:        uuid.NewString(),
		slot:      slot,
		connector: c,
		opened:    now,
		layer:     conn,
		done:      make(chan struct{}),
	}
	ep.lastActive.Store(now.UnixNano())
	return ep
}

// ID returns the unique endpoint ID
func (e *Endpoint) ID() string {
	return e.id
}

// Slot returns the number of the acceptor that accepted the endpoint
func (e *Endpoint) Slot() int {
	return e.slot
}

// Connector returns the connector that accepted the endpoint
func (e *Endpoint) Connector() *Connector {
	return e.connector
}

// Opened returns the time the endpoint was accepted
func (e *Endpoint) Opened() time.Time {
	return e.opened
}

// LastActive returns the time of the last read or write
func (e *Endpoint) LastActive() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// Protocol returns the protocol of the current connection
func (e *Endpoint) Protocol() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.protocol
}

// SetProtocol records the protocol of a connection taking the endpoint over
func (e *Endpoint) SetProtocol(protocol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.protocol = protocol
}

// Conn returns the current layer
func (e *Endpoint) Conn() net.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.layer
}

// Upgrade replaces the current layer. The new layer must wrap the old one:
// closing the endpoint closes the new layer only.
func (e *Endpoint) Upgrade(conn net.Conn) {
	e.mu.Lock()
	e.layer = conn
	e.mu.Unlock()

	select {
	case <-e.done:
		_ = conn.Close()
	default:
	}
}

// TLS returns the state of the TLS layer of the endpoint, nil if there is
// none or the handshake is not complete
func (e *Endpoint) TLS() *tls.ConnectionState {
	conn := e.Conn()
	for conn != nil {
		if tlsConn, ok := conn.(*tls.Conn); ok {
			state := tlsConn.ConnectionState()
			if !state.HandshakeComplete {
				return nil
			}
			return &state
		}
		unwrapper, ok := conn.(interface{ NetConn() net.Conn })
		if !ok {
			return nil
		}
		conn = unwrapper.NetConn()
	}
	return nil
}

// Done returns a channel closed when the endpoint closes
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Closed returns true if the endpoint is closed
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

func (e *Endpoint) Read(b []byte) (int, error) {
	n, err := e.Conn().Read(b)
	if n > 0 {
		e.touch()
	}
	return n, err
}

func (e *Endpoint) Write(b []byte) (int, error) {
	n, err := e.Conn().Write(b)
	if n > 0 {
		e.touch()
	}
	return n, err
}

// Close closes the current layer and forgets the endpoint. Repeated calls
// return the result of the first one.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.Conn().Close()
		close(e.done)
		if e.connector != nil {
			e.connector.endpointClosed(e)
		}
	})
	return e.closeErr
}

// LocalAddr implements net.Conn
func (e *Endpoint) LocalAddr() net.Addr {
	return e.Conn().LocalAddr()
}

// RemoteAddr implements net.Conn
func (e *Endpoint) RemoteAddr() net.Addr {
	return e.Conn().RemoteAddr()
}

// SetDeadline implements net.Conn
func (e *Endpoint) SetDeadline(t time.Time) error {
	return e.Conn().SetDeadline(t)
}

// SetReadDeadline implements net.Conn
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.Conn().SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn
func (e *Endpoint) SetWriteDeadline(t time.Time) error {
	return e.Conn().SetWriteDeadline(t)
}

func (e *Endpoint) String() string {
	return e.id
}
