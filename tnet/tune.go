package tnet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// TuneOptions are applied to every accepted connection
type TuneOptions struct {
	// Linger sets SO_LINGER: negative leaves the system default, 0 resets the
	// connection on close, positive waits up to the duration for unsent data
	Linger time.Duration

	// NoDelay disables Nagle's algorithm
	NoDelay bool

	// ReceiveBuffer and SendBuffer set SO_RCVBUF and SO_SNDBUF if positive
	ReceiveBuffer int
	SendBuffer    int
}

// DefaultTuneOptions are the options used by server connectors
var DefaultTuneOptions = TuneOptions{
	Linger:  -1,
	NoDelay: true,
}

// Tune applies the options to an accepted connection. Connections other than
// TCP are left alone.
func Tune(conn net.Conn, opts TuneOptions) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	if opts.Linger >= 0 {
		if err := tcp.SetLinger(int(opts.Linger / time.Second)); err != nil {
			return fmt.Errorf("failed to tune TCP socket: %w", err)
		}
	}
	if opts.ReceiveBuffer <= 0 && opts.SendBuffer <= 0 {
		return nil
	}

	raw, err := tcp.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if opts.ReceiveBuffer > 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, opts.ReceiveBuffer)
		}
		if sockErr == nil && opts.SendBuffer > 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuffer)
		}
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	return nil
}
