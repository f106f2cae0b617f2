package harbor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ridge/harbor/config"
	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/negotiate"
	"github.com/ridge/harbor/thttp"
	"github.com/ridge/harbor/ttls"
	"golang.org/x/exp/slices"
)

// ErrUnknownProtocol is returned for protocol names without a factory
var ErrUnknownProtocol = errors.New("unknown protocol")

// detectable are the protocols recognized by the detect factory
var detectable = []string{ttls.Protocol, thttp.H2C}

// negotiators are the protocols that only choose the next one
var negotiators = []string{ttls.Protocol, negotiate.ALPNProtocol, negotiate.DetectProtocol}

// FromConfig builds a server from the configuration.
//
// The handler tree is a list of the management API context, the static file
// contexts and app, in this order. app may be nil.
func FromConfig(ctx context.Context, cfg config.Config, app handler.Handler) (*Server, error) {
	s := NewServer(Config{Name: "harbor", StopTimeout: time.Duration(cfg.StopTimeout)})

	var handlers []handler.Handler
	if cfg.Admin != nil {
		var vhosts []string
		for _, name := range cfg.Admin.Connectors {
			vhosts = append(vhosts, "@"+name)
		}
		handlers = append(handlers, handler.NewContext(cfg.Admin.Path, handler.HTTP(AdminRouter(s)), vhosts...))
	}
	for _, static := range cfg.Static {
		var h http.Handler = http.FileServer(http.Dir(static.Dir))
		if static.Gzip {
			h = thttp.Gzip(h)
		}
		handlers = append(handlers, handler.NewContext(static.Path, handler.HTTP(h)))
	}
	if app != nil {
		handlers = append(handlers, app)
	}
	if err := s.SetHandler(handler.NewList(handlers...)); err != nil {
		return nil, err
	}

	for _, cc := range cfg.Connectors {
		factories, err := connectionFactories(cc)
		if err != nil {
			return nil, fmt.Errorf("connector %s: %w", cc.Name, err)
		}
		c := connector.NewServerConnector(cc.Address, s.Configure(connector.Config{
			Name:                  cc.Name,
			Acceptors:             cc.Acceptors,
			AcceptorPriorityDelta: cc.AcceptorPriorityDelta,
			IdleTimeout:           time.Duration(cc.IdleTimeout),
			StopTimeout:           time.Duration(cc.StopTimeout),
			Factories:             factories,
			DefaultProtocol:       cc.DefaultProtocol,
		}))
		if err := s.AddConnector(ctx, c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func httpMiddleware(hc config.HTTP) []func(http.Handler) http.Handler {
	mw := []func(http.Handler) http.Handler{thttp.Log, thttp.Recover}
	if hc.CORS {
		mw = []func(http.Handler) http.Handler{thttp.StandardMiddleware}
	}
	if hc.LogBodies {
		mw = append(mw, thttp.LogBodies)
	}
	return mw
}

// connectionFactories creates the factories of the connector protocols in
// order. Negotiating protocols continue with the protocols after them:
//
//   - ssl with the next one;
//   - alpn offers all the following application protocols, preferring
//     http/1.1 when the client asks for none;
//   - detect recognizes ssl and h2c and falls back to http/1.1.
//
// A connector with TLS settings and without ssl gets ssl first.
func connectionFactories(cc config.Connector) ([]connector.ConnectionFactory, error) {
	protocols := make([]string, 0, len(cc.Protocols)+1)
	for _, p := range cc.Protocols {
		protocols = append(protocols, strings.ToLower(p))
	}
	if cc.TLS != nil && !slices.Contains(protocols, ttls.Protocol) {
		protocols = append([]string{ttls.Protocol}, protocols...)
	}

	httpConfig := thttp.Config{
		ReadHeaderTimeout: time.Duration(cc.HTTP.ReadHeaderTimeout),
		IdleTimeout:       time.Duration(cc.HTTP.IdleTimeout),
		MaxHeaderBytes:    cc.HTTP.MaxHeaderBytes,
		Middleware:        httpMiddleware(cc.HTTP),
	}

	var res []connector.ConnectionFactory
	for i, p := range protocols {
		rest := protocols[i+1:]
		switch p {
		case thttp.HTTP1:
			res = append(res, thttp.NewHTTP1Factory(httpConfig))
		case thttp.H2:
			res = append(res, thttp.NewH2Factory(httpConfig))
		case thttp.H2C:
			res = append(res, thttp.NewH2CFactory(httpConfig))
		case ttls.Protocol:
			if len(rest) == 0 {
				return nil, errors.New("ssl must be followed by another protocol")
			}
			tlsConfig, err := tlsFactoryConfig(cc.TLS)
			if err != nil {
				return nil, err
			}
			res = append(res, ttls.NewFactory(rest[0], tlsConfig))
		case negotiate.ALPNProtocol:
			var offered []string
			for _, next := range rest {
				if !slices.Contains(negotiators, next) {
					offered = append(offered, next)
				}
			}
			if len(offered) == 0 {
				return nil, errors.New("alpn must be followed by application protocols")
			}
			defaultProtocol := offered[len(offered)-1]
			if slices.Contains(offered, thttp.HTTP1) {
				defaultProtocol = thttp.HTTP1
			}
			res = append(res, negotiate.NewALPN(defaultProtocol, offered...))
		case negotiate.DetectProtocol:
			var detecting []string
			for _, next := range rest {
				if slices.Contains(detectable, next) {
					detecting = append(detecting, next)
				}
			}
			var fallback string
			if slices.Contains(rest, thttp.HTTP1) {
				fallback = thttp.HTTP1
			}
			res = append(res, negotiate.NewDetect(fallback, detecting...))
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownProtocol, p)
		}
	}
	return res, nil
}

func tlsFactoryConfig(c *config.TLS) (ttls.Config, error) {
	switch {
	case c == nil:
		return ttls.Config{}, errors.New("ssl needs TLS settings")
	case c.SelfSigned:
		cert, err := ttls.GenerateSelfSigned(c.Hosts...)
		if err != nil {
			return ttls.Config{}, err
		}
		return ttls.Config{TLS: &tls.Config{
			Certificates: []tls.Certificate{cert.Certificate},
			MinVersion:   tls.VersionTLS12,
		}}, nil
	default:
		return ttls.Config{Reloader: ttls.NewCertReloader(c.Cert, c.Key)}, nil
	}
}
