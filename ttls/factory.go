package ttls

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// Protocol is the primary protocol name of Factory
const Protocol = "ssl"

// DefaultHandshakeTimeout bounds TLS handshakes
const DefaultHandshakeTimeout = 10 * time.Second

// Config configures a Factory
type Config struct {
	// TLS is the server configuration. It is cloned for every endpoint.
	// Certificates come from Reloader if it is set.
	TLS *tls.Config

	// Reloader provides the certificate, reloading it when the files change.
	// The factory starts and stops it.
	Reloader *CertReloader

	// HandshakeTimeout is DefaultHandshakeTimeout if 0, none if negative
	HandshakeTimeout time.Duration
}

// Factory performs TLS handshakes on endpoints and continues with the next
// protocol
type Factory struct {
	connector.Base
	lifecycle.Machine

	next   string
	config Config
}

// NewFactory creates a Factory continuing with the next protocol.
// The factory is also registered as "SSL-<next>".
func NewFactory(next string, config Config) *Factory {
	must.OK(validateNext(next))

	if config.TLS == nil {
		config.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		config.TLS = config.TLS.Clone()
	}
	if config.Reloader != nil {
		config.TLS.GetCertificate = config.Reloader.GetCertificate
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Factory{
		Base:   connector.NewBase(Protocol, "SSL-"+next),
		next:   next,
		config: config,
	}
}

func validateNext(next string) error {
	if next == "" {
		return errors.New("ssl factory needs the next protocol")
	}
	return nil
}

// NextProtocols implements connector.Chained
func (f *Factory) NextProtocols() []string {
	return []string{f.next}
}

// Start starts the certificate reloader, if any
func (f *Factory) Start(ctx context.Context) error {
	return f.Machine.Start(ctx, func(ctx context.Context) error {
		if f.config.Reloader == nil {
			return nil
		}
		return f.config.Reloader.Start(ctx)
	})
}

// Stop stops the certificate reloader, if any
func (f *Factory) Stop(ctx context.Context) error {
	return f.Machine.Stop(ctx, func(ctx context.Context) error {
		if f.config.Reloader == nil {
			return nil
		}
		return f.config.Reloader.Stop(ctx)
	})
}

// serverConfig returns the TLS configuration for a new endpoint, advertising
// the protocols of the next factory if it negotiates
func (f *Factory) serverConfig(c *connector.Connector) *tls.Config {
	config := f.config.TLS.Clone()
	if len(config.NextProtos) == 0 {
		if n, ok := c.ConnectionFactory(f.next).(connector.Negotiating); ok {
			config.NextProtos = n.Negotiated()
		}
	}
	return config
}

// NewConnection implements connector.ConnectionFactory
func (f *Factory) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	config := f.serverConfig(c)
	return connector.ConnectionFunc(func(ctx context.Context) error {
		conn := tls.Server(ep.Conn(), config)

		hsCtx := ctx
		if f.config.HandshakeTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, f.config.HandshakeTimeout)
			defer cancel()
		}
		if err := conn.HandshakeContext(hsCtx); err != nil {
			tlog.Get(ctx).Debug("TLS handshake failed", zap.Error(err))
			return nil
		}
		ep.Upgrade(conn)

		state := conn.ConnectionState()
		tlog.Get(ctx).Debug("TLS handshake complete",
			zap.String("tlsVersion", tls.VersionName(state.Version)),
			zap.String("alpn", state.NegotiatedProtocol),
			zap.String("serverName", state.ServerName))

		next, err := c.NewConnection(f.next, ep)
		if err != nil {
			return err
		}
		return next.Serve(ctx)
	}), nil
}
