package ttls

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/require"
)

type echoFactory struct {
	connector.Base
}

func (f *echoFactory) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		_, err := io.Copy(ep, ep)
		return err
	}), nil
}

// alpnReporter writes the negotiated protocol and closes the endpoint
type alpnReporter struct {
	connector.Base
	offered []string
}

func (f *alpnReporter) NextProtocols() []string {
	return nil
}

func (f *alpnReporter) Negotiated() []string {
	return f.offered
}

func (f *alpnReporter) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		state := ep.TLS()
		if state == nil {
			_, err := io.WriteString(ep, "none\n")
			return err
		}
		_, err := io.WriteString(ep, state.NegotiatedProtocol+"\n")
		return err
	}), nil
}

func startServer(t *testing.T, factories ...connector.ConnectionFactory) *connector.Connector {
	c := connector.NewServerConnector("127.0.0.1:0", connector.Config{Acceptors: 1, Factories: factories})
	ctx := test.Context(t)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, c.Stop(ctx))
	})
	return c
}

func dialRaw(t *testing.T, c *connector.Connector) net.Conn {
	ctx, cancel := context.WithTimeout(test.Context(t), 5*time.Second)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", c.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = raw.Close()
	})
	return raw
}

func dialTLS(t *testing.T, c *connector.Connector, config *tls.Config) *tls.Conn {
	ctx, cancel := context.WithTimeout(test.Context(t), 5*time.Second)
	defer cancel()

	raw := dialRaw(t, c)
	t.Cleanup(func() {
		_ = raw.Close()
	})
	conn := tls.Client(raw, config)
	require.NoError(t, conn.HandshakeContext(ctx))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg string) {
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}
