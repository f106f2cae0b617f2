package connector

import "net"

// PrefixConn is a net.Conn that returns already consumed bytes before reading
// from the underlying connection
type PrefixConn struct {
	net.Conn
	prefix []byte
}

// NewPrefixConn creates a PrefixConn. The prefix is copied.
func NewPrefixConn(conn net.Conn, prefix []byte) *PrefixConn {
	return &PrefixConn{Conn: conn, prefix: append([]byte(nil), prefix...)}
}

func (p *PrefixConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

// NetConn returns the underlying connection
func (p *PrefixConn) NetConn() net.Conn {
	return p.Conn
}
