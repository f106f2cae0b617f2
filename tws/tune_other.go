//go:build !linux

package tws

import "net"

func tuneTCP(conn net.Conn, config Config) error {
	return nil
}
