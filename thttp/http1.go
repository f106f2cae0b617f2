package thttp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
)

// Protocol names
const (
	HTTP1 = "http/1.1"
	H2    = "h2"
	H2C   = "h2c"
)

const gracefulShutdownTimeout = 5 * time.Second

var errNotStarted = errors.New("connection factory is not started")

// Config configures HTTP connection factories
type Config struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// ShutdownTimeout bounds the graceful shutdown of HTTP/1.1 connections
	ShutdownTimeout time.Duration

	// Middleware is installed around request dispatching, the first one
	// sees the request first. Log and Recover if nil.
	Middleware []func(http.Handler) http.Handler
}

func (c Config) middleware() []func(http.Handler) http.Handler {
	if c.Middleware == nil {
		return []func(http.Handler) http.Handler{Log, Recover}
	}
	return c.Middleware
}

// HTTP1Factory serves HTTP/1.1 on endpoints.
//
// All the endpoints are served by one http.Server running while the factory
// is started. Requests with the Upgrade header naming the protocol of an
// Upgrading factory of the connector are switched to that protocol.
type HTTP1Factory struct {
	connector.Base
	lifecycle.Machine

	config Config
	locked sync.WaitGroup

	mu       sync.Mutex
	listener *connListener
	cancel   context.CancelFunc
	done     chan error
}

// NewHTTP1Factory creates an HTTP1Factory
func NewHTTP1Factory(config Config) *HTTP1Factory {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = gracefulShutdownTimeout
	}
	return &HTTP1Factory{
		Base:   connector.NewBase(HTTP1),
		config: config,
	}
}

// Start starts the HTTP server
func (f *HTTP1Factory) Start(ctx context.Context) error {
	return f.Machine.Start(ctx, f.doStart)
}

// Stop shuts the HTTP server down gracefully
func (f *HTTP1Factory) Stop(ctx context.Context) error {
	return f.Machine.Stop(ctx, f.doStop)
}

func (f *HTTP1Factory) doStart(ctx context.Context) error {
	listener := newConnListener(listenerAddr(f.Protocol()))
	runCtx, cancel := tcontext.Detach(ctx)
	done := make(chan error, 1)

	f.mu.Lock()
	f.listener, f.cancel, f.done = listener, cancel, done
	f.mu.Unlock()

	go func() {
		done <- f.run(runCtx, listener)
	}()
	return nil
}

func (f *HTTP1Factory) doStop(ctx context.Context) error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.listener = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run serves requests until the context is closed, then performs graceful
// shutdown for up to the shutdown timeout
func (f *HTTP1Factory) run(ctx context.Context, listener *connListener) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		ctx = tlog.With(ctx, zap.String("protocol", f.Protocol()))
		reqCtx, reqCancel := tcontext.Detach(ctx) // stays open longer than ctx

		logger := tlog.Get(ctx)

		server := http.Server{
			Handler:           Wrap(http.HandlerFunc(Dispatch), append(f.config.middleware(), f.upgrade)...),
			ErrorLog:          must.OK1(zap.NewStdLogAt(logger, zap.WarnLevel)),
			BaseContext:       func(net.Listener) context.Context { return reqCtx },
			ConnContext:       connContext,
			ReadHeaderTimeout: f.config.ReadHeaderTimeout,
			IdleTimeout:       f.config.IdleTimeout,
			MaxHeaderBytes:    f.config.MaxHeaderBytes,
		}
		server.Handler = f.lock(server.Handler) // install as outermost

		spawn("serve", parallel.Fail, func(ctx context.Context) error {
			logger.Debug("Serving requests")
			err := server.Serve(listener)
			// http.Server predates contexts, so it has its own
			// error meaning "terminated successfully due to an
			// external request". Return the actual error from
			// Context in this case to avoid accidentally treating
			// successful shutdown as an error.
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		})

		spawn("shutdownHandler", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			logger.Debug("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(reqCtx, f.config.ShutdownTimeout)
			defer cancel()
			defer reqCancel()
			defer server.Close() // always returns nil because the listener is already closed

			// Server.Shutdown may return http.ErrServerClosed if
			// the server is already down. It's not an error in this
			// case.
			err := server.Shutdown(shutdownCtx)
			if err != nil && shutdownCtx.Err() != nil { // timeout shutting down
				logger.Info("Shutdown canceled", zap.Error(err))
				return err
			}

			reqCancel() // ask hijacked connections to terminate
			f.locked.Wait()

			logger.Debug("Shutdown complete")
			return ctx.Err()
		})

		return nil
	})
}

// This mandatory Middleware ensures that any running handlers prevent the
// server from shutting down. This is normally taken care of by the standard
// library itself, except when connections are hijacked. The latter use case is
// important for WebSocket.
func (f *HTTP1Factory) lock(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.locked.Add(1)
		defer f.locked.Done()
		next.ServeHTTP(w, r)
	})
}

func (f *HTTP1Factory) currentListener() *connListener {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listener
}

// NewConnection implements connector.ConnectionFactory
func (f *HTTP1Factory) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return &http1Conn{Endpoint: ep, factory: f, upgraded: make(chan connector.Connection, 1)}, nil
}

// http1Conn is the endpoint as seen by http.Server. Its Serve method waits
// for the server to close the endpoint or switch it to another protocol.
type http1Conn struct {
	*connector.Endpoint

	factory  *HTTP1Factory
	upgraded chan connector.Connection
}

func (hc *http1Conn) Serve(ctx context.Context) error {
	listener := hc.factory.currentListener()
	if listener == nil {
		return errNotStarted
	}
	if err := listener.push(ctx, hc); err != nil {
		return err
	}
	select {
	case <-hc.Done():
		return nil
	case conn := <-hc.upgraded:
		return conn.Serve(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type http1ConnKeyType int

const http1ConnKey http1ConnKeyType = iota

func connContext(ctx context.Context, conn net.Conn) context.Context {
	if hc, ok := conn.(*http1Conn); ok {
		ctx = context.WithValue(withEndpoint(ctx, hc.Endpoint), http1ConnKey, hc)
		ctx = tlog.With(ctx, zap.String("endpoint", hc.ID()))
	}
	return tlog.With(ctx, zap.Stringer("remoteAddr", conn.RemoteAddr()))
}

// upgrade switches the endpoint to the first protocol listed in the Upgrade
// header that has an Upgrading factory accepting the request
func (f *HTTP1Factory) upgrade(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hc, _ := r.Context().Value(http1ConnKey).(*http1Conn)
		if hc == nil || !httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") {
			next.ServeHTTP(w, r)
			return
		}

		logger := tlog.Get(r.Context())
		c := hc.Connector()
		for _, token := range strings.Split(r.Header.Get("Upgrade"), ",") {
			protocol := strings.TrimSpace(token)
			up, ok := c.ConnectionFactory(protocol).(connector.Upgrading)
			if !ok {
				continue
			}
			header := http.Header{}
			conn, err := up.UpgradeConnection(c, hc.Endpoint, r, header)
			if err != nil {
				logger.Debug("Upgrade refused", zap.String("upgrade", protocol), zap.Error(err))
				continue
			}
			if conn == nil {
				continue
			}
			if err := hc.switchTo(w, up.Protocol(), header, conn); err != nil {
				logger.Warn("Upgrade failed", zap.String("upgrade", protocol), zap.Error(err))
				_ = hc.Close()
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// switchTo takes the endpoint over from http.Server, sends the 101 response
// and hands the endpoint to the connection of the new protocol
func (hc *http1Conn) switchTo(w http.ResponseWriter, protocol string, header http.Header, conn connector.Connection) error {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return errors.New("response writer does not support hijacking")
	}
	_, rw, err := hj.Hijack()
	if err != nil {
		return err
	}

	header.Set("Connection", "Upgrade")
	header.Set("Upgrade", protocol)
	if err := writeSwitchingProtocols(rw, header); err != nil {
		return err
	}
	if n := rw.Reader.Buffered(); n > 0 {
		prefix, _ := rw.Reader.Peek(n)
		hc.Upgrade(connector.NewPrefixConn(hc.Conn(), prefix))
	}
	hc.SetProtocol(protocol)
	hc.upgraded <- conn
	return nil
}

func writeSwitchingProtocols(rw *bufio.ReadWriter, header http.Header) error {
	if _, err := fmt.Fprintf(rw, "HTTP/1.1 %d %s\r\n", http.StatusSwitchingProtocols, http.StatusText(http.StatusSwitchingProtocols)); err != nil {
		return err
	}
	if err := header.Write(rw); err != nil {
		return err
	}
	if _, err := rw.WriteString("\r\n"); err != nil {
		return err
	}
	return rw.Flush()
}
