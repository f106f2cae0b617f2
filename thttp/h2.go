package thttp

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// H2Factory serves HTTP/2 on endpoints, normally after TLS with ALPN
type H2Factory struct {
	connector.Base

	config  Config
	server  *http2.Server
	handler http.Handler
}

// NewH2Factory creates an H2Factory
func NewH2Factory(config Config) *H2Factory {
	return newH2Factory(connector.NewBase(H2), config)
}

func newH2Factory(base connector.Base, config Config) *H2Factory {
	return &H2Factory{
		Base:    base,
		config:  config,
		server:  &http2.Server{IdleTimeout: config.IdleTimeout},
		handler: Wrap(http.HandlerFunc(Dispatch), config.middleware()...),
	}
}

// NewConnection implements connector.ConnectionFactory
func (f *H2Factory) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		return f.serve(ctx, ep, nil, nil)
	}), nil
}

// serve runs HTTP/2 on the endpoint until the client goes away or ctx is
// closed
func (f *H2Factory) serve(ctx context.Context, ep *connector.Endpoint, upgrade *http.Request, settings []byte) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ep.Close()
	})
	defer stop()

	ctx = withEndpoint(tlog.With(ctx, zap.String("protocol", f.Protocol())), ep)
	opts := &http2.ServeConnOpts{
		Context: ctx,
		BaseConfig: &http.Server{
			ErrorLog:       must.OK1(zap.NewStdLogAt(tlog.Get(ctx), zap.WarnLevel)),
			MaxHeaderBytes: f.config.MaxHeaderBytes,
		},
		Handler:  f.handler,
		Settings: settings,
	}
	if upgrade != nil {
		opts.UpgradeRequest = upgrade.WithContext(ctx)
	}
	f.server.ServeConn(ep, opts)
	return nil
}

// H2CFactory serves cleartext HTTP/2 with prior knowledge, and takes over
// HTTP/1.1 endpoints asking to upgrade to h2c
type H2CFactory struct {
	*H2Factory
}

var errBadSettings = errors.New("malformed HTTP2-Settings header")

// NewH2CFactory creates an H2CFactory
func NewH2CFactory(config Config) *H2CFactory {
	return &H2CFactory{H2Factory: newH2Factory(connector.NewBase(H2C), config)}
}

// UpgradeConnection implements connector.Upgrading. Requests with bodies
// continue as HTTP/1.1.
func (f *H2CFactory) UpgradeConnection(c *connector.Connector, ep *connector.Endpoint, r *http.Request, header http.Header) (connector.Connection, error) {
	if r.ContentLength != 0 {
		return nil, nil
	}
	values := r.Header.Values("HTTP2-Settings")
	if len(values) != 1 {
		return nil, errBadSettings
	}
	settings, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(values[0], "="))
	if err != nil {
		return nil, errBadSettings
	}

	upgrade := r.Clone(r.Context())
	upgrade.Body = http.NoBody
	for _, name := range []string{"Connection", "Upgrade", "HTTP2-Settings"} {
		upgrade.Header.Del(name)
	}
	return connector.ConnectionFunc(func(ctx context.Context) error {
		return f.serve(ctx, ep, upgrade, settings)
	}), nil
}
