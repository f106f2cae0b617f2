package negotiate

import (
	"context"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ALPNProtocol is the protocol name of ALPN
const ALPNProtocol = "alpn"

// ALPN continues with the protocol negotiated during the TLS handshake, or
// with its default protocol if the client did not ask for any
type ALPN struct {
	connector.Base

	defaultProtocol string
	negotiated      []string
}

// NewALPN creates an ALPN factory offering the negotiated protocols in order
// of preference. Without negotiated protocols only the default is offered.
func NewALPN(defaultProtocol string, negotiated ...string) *ALPN {
	if len(negotiated) == 0 {
		negotiated = []string{defaultProtocol}
	}
	return &ALPN{
		Base:            connector.NewBase(ALPNProtocol),
		defaultProtocol: defaultProtocol,
		negotiated:      slices.Clone(negotiated),
	}
}

// DefaultProtocol returns the protocol used when nothing was negotiated
func (f *ALPN) DefaultProtocol() string {
	return f.defaultProtocol
}

// Negotiated implements connector.Negotiating
func (f *ALPN) Negotiated() []string {
	return slices.Clone(f.negotiated)
}

// NextProtocols implements connector.Chained
func (f *ALPN) NextProtocols() []string {
	next := slices.Clone(f.negotiated)
	if !slices.Contains(next, f.defaultProtocol) {
		next = append(next, f.defaultProtocol)
	}
	return next
}

// Select returns the protocol to continue with after negotiating the given
// one
func (f *ALPN) Select(negotiated string) string {
	if negotiated == "" {
		return f.defaultProtocol
	}
	return negotiated
}

// NewConnection implements connector.ConnectionFactory
func (f *ALPN) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		var negotiated string
		if state := ep.TLS(); state != nil {
			negotiated = state.NegotiatedProtocol
		}
		protocol := f.Select(negotiated)
		tlog.Get(ctx).Debug("ALPN selected protocol", zap.String("alpn", negotiated), zap.String("target", protocol))

		next, err := c.NewConnection(protocol, ep)
		if err != nil {
			return err
		}
		return next.Serve(ctx)
	}), nil
}
