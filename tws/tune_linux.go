package tws

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func tuneTCP(conn net.Conn, config Config) error {
	if config.TCPTimeout == 0 {
		return nil
	}
	tcp := tcpConn(conn)
	if tcp == nil {
		return nil
	}
	if err := setTCPOption(tcp, unix.TCP_USER_TIMEOUT, int(config.TCPTimeout/time.Millisecond)); err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	return nil
}

func setTCPOption(conn *net.TCPConn, option, value int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}

	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, option, value)
	}); err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}
	if sockErr != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, sockErr)
	}
	return nil
}
