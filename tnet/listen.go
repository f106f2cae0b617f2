package tnet

import (
	"context"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ridge/must/v2"
	"golang.org/x/sys/unix"
)

// ListenOptions tunes the listening socket
type ListenOptions struct {
	// KeepAlive is the keep-alive period of accepted TCP connections. 0 means
	// 3 minutes, negative disables keep-alive.
	KeepAlive time.Duration

	// ReusePort sets SO_REUSEPORT so that several listeners may share the
	// address
	ReusePort bool
}

func (o ListenOptions) config() *net.ListenConfig {
	keepAlive := o.KeepAlive
	if keepAlive == 0 {
		keepAlive = 3 * time.Minute
	}
	return &net.ListenConfig{
		KeepAlive: keepAlive,
		Control: func(network, address string, c syscall.RawConn) error {
			if strings.HasPrefix(network, "unix") {
				return nil
			}
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr == nil && o.ReusePort {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// Listen installs a listener on the specified address.
//
// If the address string starts with "tcp:", the rest is interpreted as
// [address]:port on which to open a TCP listening socket. TCP keep-alive is
// enabled in this case.
//
// If the address string starts with "unix:", the rest is interpreted the path
// to a UNIX domain socket to listen on.
//
// If neither prefix is present, "tcp:" is assumed.
func Listen(address string) (net.Listener, error) {
	return ListenWith(context.Background(), address, ListenOptions{})
}

// ListenWith is Listen with socket options
func ListenWith(ctx context.Context, address string, opts ListenOptions) (net.Listener, error) {
	network := "tcp"
	proto, rest, ok := strings.Cut(address, ":")
	if ok {
		switch proto {
		case "unix":
			network = "unix"
			address = rest
		case "tcp":
			address = rest
		}
	}
	return opts.config().Listen(ctx, network, address)
}

// ListenOnRandomPort selects a random local TCP port and installs a listener on
// it with TCP keep-alive enabled
func ListenOnRandomPort() net.Listener {
	return must.OK1(Listen("localhost:"))
}
