package negotiate

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/require"
)

// tagFactory writes its protocol name, then echoes
type tagFactory struct {
	connector.Base
}

func newTag(protocol string) *tagFactory {
	return &tagFactory{Base: connector.NewBase(protocol)}
}

func (f *tagFactory) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		if _, err := io.WriteString(ep, f.Protocol()+"\n"); err != nil {
			return err
		}
		_, err := io.Copy(ep, ep)
		return err
	}), nil
}

// magicFactory recognizes endpoints starting with "MAGIC"
type magicFactory struct {
	*tagFactory
}

var magic = []byte("MAGIC")

func (f magicFactory) Detect(prefix []byte) Detection {
	if len(prefix) < len(magic) {
		if bytes.HasPrefix(magic, prefix) {
			return NeedMoreBytes
		}
		return NotRecognized
	}
	if bytes.HasPrefix(prefix, magic) {
		return Recognized
	}
	return NotRecognized
}

func startLocal(t *testing.T, factories ...connector.ConnectionFactory) *connector.LocalTransport {
	c, transport := connector.NewLocalConnector(connector.Config{Acceptors: 1, Factories: factories})
	ctx := test.Context(t)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, c.Stop(ctx))
	})
	return transport
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

func dialLocal(t *testing.T, transport *connector.LocalTransport) net.Conn {
	ctx, cancel := context.WithTimeout(test.Context(t), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func dialTCP(t *testing.T, c *connector.Connector) net.Conn {
	conn, err := net.DialTimeout("tcp", c.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// expectTag reads the tag line and the echo of sent
func expectTag(t *testing.T, conn net.Conn, tag string, sent []byte) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, tag+"\n", line)

	if len(sent) > 0 {
		echoed := make([]byte, len(sent))
		_, err = io.ReadFull(r, echoed)
		require.NoError(t, err)
		require.Equal(t, sent, echoed)
	}
}
