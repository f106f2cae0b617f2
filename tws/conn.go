package tws

import "net"

// tcpConn finds the TCP socket under the layers of conn, nil if there is
// none. Connector endpoints expose their active layer through Conn.
func tcpConn(conn net.Conn) *net.TCPConn {
	for conn != nil {
		switch c := conn.(type) {
		case *net.TCPConn:
			return c
		case interface{ Conn() net.Conn }:
			conn = c.Conn()
		case interface{ NetConn() net.Conn }:
			conn = c.NetConn()
		default:
			return nil
		}
	}
	return nil
}
