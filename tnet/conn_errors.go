package tnet

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsClosedConnectionError returns if the passed error is "closed network connection".
func IsClosedConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	// errors produced before net.ErrClosed existed carry only the text
	return strings.HasSuffix(err.Error(), "use of closed network connection")
}

// StripClosedConnectionError returns nil if the passed error is
// "closed network connection", and the original error otherwise.
//
// This is handy to decrease the amount of spam in logs, as "closed network
// connection" is a common error that happens every time a network connection
// is closed as a result of handling context cancellation.
func StripClosedConnectionError(err error) error {
	if IsClosedConnectionError(err) {
		return nil
	}
	return err
}

// IsIOError returns true if the error comes from reading or writing a
// connection, a file or a socket, as opposed to a failure of the caller's own
// logic.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	if IsClosedConnectionError(err) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

// IsShutdownError returns true for errors a blocking network call returns when
// it is interrupted on purpose: the socket was closed or the call was
// canceled.
func IsShutdownError(err error) bool {
	return IsClosedConnectionError(err) ||
		err != nil && err.Error() == "operation was canceled" // legacy code in src/net/net.go
}
