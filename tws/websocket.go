package tws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ridge/harbor/thttp"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
)

// Config is the WebSocket configuration
type Config struct {
	// Timeout for the WebSocket protocol upgrade
	HandshakeTimeout time.Duration

	// Disconnect when an outgoing packet is not acknowledged for this long.
	// 0 for kernel default.
	TCPTimeout time.Duration

	// Send pings this often. 0 to disable.
	PingInterval time.Duration

	// Disconnect if a pong doesn't arrive during PingInterval
	RequirePong bool

	// Websocket subprotocols: requested by clients, supported by servers
	// in order of preference
	Subprotocols []string

	// Pass specific TLS configuration to the connection. Client-only.
	TLSClientConfig *tls.Config

	// CheckOrigin returns true if the request Origin header is acceptable
	CheckOrigin func(r *http.Request) bool

	// ReadLimit is the maximum size of an incoming message, 0 for no limit
	ReadLimit int64

	// NetDial opens client connections, a TCP dialer if nil. Client-only.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// DefaultConfig is the default Config value
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,

	TCPTimeout: 30 * time.Second,

	PingInterval: 30 * time.Second,
	RequirePong:  true,
}

// StreamerConfig is the recommended configuration for high-traffic protocols
// where participants cannot be expected to be responsive all the time
var StreamerConfig = func() Config {
	config := DefaultConfig
	config.RequirePong = false
	return config
}()

// SessionFn is a function that implements a WebSocket interaction scenario.
//
// The function receives incoming messages through one channel and sends outgoing messages through another.
// Both the incoming channel and the context will be closed when the connection closes.
// Once the session function returns, the connection will be closed if it's still open.
// If the session function returns nil, the closure will be graceul: the incoming channel will be drained first.
// If the session function returns an error, the connection will be closed immediately.
type SessionFn func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error

// Serve handles an HTTP request by upgrading the connection to WebSocket
// and executing the interaction scenario described by the session function.
//
// The context passed into the session function is a descendant of the request context.
func Serve(w http.ResponseWriter, r *http.Request, config Config, sessionFn SessionFn) error {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     config.Subprotocols,
		CheckOrigin:      config.CheckOrigin,
	}

	// Copying w.Header gets us, in particular, the request ID set by
	// thttp.Log.
	ws, err := upgrader.Upgrade(w, r, w.Header().Clone())
	if err != nil {
		return fmt.Errorf("failed to upgrade to WebSocket: %w", err)
	}

	if err := tuneTCP(ws.UnderlyingConn(), config); err != nil {
		_ = ws.Close()
		return err
	}

	ctx := tlog.With(r.Context(), zap.String("subprotocol", ws.Subprotocol()))
	return newSession(ws, config).run(ctx, sessionFn)
}

// Dial connects to WebSocket server and executes the interaction scenario described by the session function.
func Dial(ctx context.Context, url string, headers http.Header, config Config, sessionFn SessionFn) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dial := config.NetDial
			if dial == nil {
				dial = (&net.Dialer{}).DialContext
			}
			conn, err := dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := tuneTCP(conn, config); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     config.Subprotocols,
		TLSClientConfig:  config.TLSClientConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("failed to establish WebSocket connection to %s (%s): %w", url, resp.Status, err)
		}
		return fmt.Errorf("failed to establish WebSocket connection to %s: %w", url, err)
	}

	ctx = tlog.With(ctx, zap.String("url", url), zap.String("requestID", resp.Header.Get(thttp.RequestIDHeader)))
	return newSession(ws, config).run(ctx, sessionFn)
}

// WithWSScheme changes http to ws and https to wss
func WithWSScheme(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		panic("no scheme in address")
	}
	return strings.Replace(addr, "http", "ws", 1)
}
