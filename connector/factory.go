package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ConnectionFactory builds connections of a protocol
type ConnectionFactory interface {
	// Protocol returns the primary protocol name
	Protocol() string

	// Protocols returns all the names the factory is registered under,
	// the primary one first
	Protocols() []string

	// NewConnection creates a connection for a new endpoint. It must not
	// block: reading and writing belong to Connection.Serve.
	NewConnection(c *Connector, ep *Endpoint) (Connection, error)
}

// Connection speaks a protocol over an endpoint
type Connection interface {
	// Serve runs the connection until the exchange is over or ctx is
	// closed. The endpoint is closed after Serve returns.
	Serve(ctx context.Context) error
}

// ConnectionFunc adapts a function to Connection
type ConnectionFunc func(ctx context.Context) error

// Serve calls f
func (f ConnectionFunc) Serve(ctx context.Context) error {
	return f(ctx)
}

// Upgrading is a factory that can take over an endpoint in the middle of an
// HTTP/1.1 exchange, as requested by the Upgrade header
type Upgrading interface {
	ConnectionFactory

	// UpgradeConnection returns the connection that replaces HTTP/1.1 on
	// the endpoint after the 101 response, adding the fields of that
	// response to header. A nil connection without an error means the
	// request continues without an upgrade.
	UpgradeConnection(c *Connector, ep *Endpoint, r *http.Request, header http.Header) (Connection, error)
}

// Chained is a factory whose connections continue with connections of other
// protocols from the same connector
type Chained interface {
	NextProtocols() []string
}

// Negotiating is a chained factory that picks the next protocol at run time,
// advertising the candidates through TLS ALPN
type Negotiating interface {
	Chained
	Negotiated() []string
}

// Base implements the protocol names of a factory. Factories embed it.
type Base struct {
	protocols []string

	// InputBufferSize is a hint for connections reading from endpoints
	InputBufferSize int
}

// DefaultInputBufferSize is the input buffer size of new factories
const DefaultInputBufferSize = 8192

// NewBase creates a Base for the primary protocol and aliases
func NewBase(protocol string, aliases ...string) Base {
	return Base{
		protocols:       append([]string{protocol}, aliases...),
		InputBufferSize: DefaultInputBufferSize,
	}
}

// Protocol returns the primary protocol name
func (b Base) Protocol() string {
	if len(b.protocols) == 0 {
		return ""
	}
	return b.protocols[0]
}

// Protocols returns all the protocol names
func (b Base) Protocols() []string {
	return append([]string(nil), b.protocols...)
}

func (b Base) String() string {
	return fmt.Sprintf("%s{%s}", b.Protocol(), strings.Join(b.protocols, ","))
}
