package thttp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/test"
	"github.com/ridge/must/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, root handler.Handler, factories ...connector.ConnectionFactory) (*connector.Connector, *connector.LocalTransport) {
	ctx := test.Context(t)
	require.NoError(t, root.Start(ctx))
	c, transport := connector.NewLocalConnector(connector.Config{Name: "main", Server: root, Factories: factories})
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, c.Stop(ctx))
		require.NoError(t, root.Stop(ctx))
	})
	return c, transport
}

// newHello responds with the protocol of the request, the connector name and
// the target
func newHello() *handler.Leaf {
	return handler.New(func(target string, base *handler.Request, w http.ResponseWriter, r *http.Request) error {
		base.SetHandled(true)
		_, err := fmt.Fprintf(w, "%s %s %s", r.Proto, base.Connector(), target)
		return err
	})
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	req := must.OK1(http.NewRequestWithContext(test.Context(t), http.MethodGet, url, nil))
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestHTTP1(t *testing.T) {
	t.Parallel()

	c, transport := serve(t, handler.New(func(target string, base *handler.Request, w http.ResponseWriter, r *http.Request) error {
		base.SetHandled(true)
		assert.Nil(t, r.TLS)
		assert.False(t, base.Secure())
		assert.NotNil(t, EndpointFromContext(r.Context()))
		_, err := fmt.Fprintf(w, "%s %s %s", r.Proto, base.Connector(), target)
		return err
	}), NewHTTP1Factory(Config{}))

	client := NewLocalClient(transport)
	res, body := get(t, client, "http://local/path")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "HTTP/1.1 main /path", body)

	// keep-alive reuses the endpoint
	_, body = get(t, client, "http://local/again")
	assert.Equal(t, "HTTP/1.1 main /again", body)
	eps := c.ConnectedEndpoints()
	require.NotEmpty(t, eps)
	for _, ep := range eps {
		assert.Equal(t, HTTP1, ep.Protocol())
	}
}

func TestHTTP1NotFound(t *testing.T) {
	t.Parallel()

	_, transport := serve(t, handler.New(func(target string, base *handler.Request, w http.ResponseWriter, r *http.Request) error {
		return nil
	}), NewHTTP1Factory(Config{}))

	res, _ := get(t, NewLocalClient(transport), "http://local/")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHTTP1HandlerError(t *testing.T) {
	t.Parallel()

	_, transport := serve(t, handler.New(func(target string, base *handler.Request, w http.ResponseWriter, r *http.Request) error {
		return errors.New("broken")
	}), NewHTTP1Factory(Config{}))

	res, _ := get(t, NewLocalClient(transport), "http://local/")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHTTP1HandlerPanic(t *testing.T) {
	t.Parallel()

	_, transport := serve(t, handler.HTTP(http.HandlerFunc(oopsHandler)), NewHTTP1Factory(Config{}))
	client := NewLocalClient(transport)

	res, _ := get(t, client, "http://local/")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	// the connector survives
	res, _ = get(t, client, "http://local/")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHTTP1UnknownUpgrade(t *testing.T) {
	t.Parallel()

	_, transport := serve(t, newHello(), NewHTTP1Factory(Config{}), NewH2CFactory(Config{}))

	req := must.OK1(http.NewRequestWithContext(test.Context(t), http.MethodGet, "http://local/", nil))
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "unknown/1")
	res, err := NewLocalClient(transport).Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHTTP1UpgradeWithBody(t *testing.T) {
	t.Parallel()

	_, transport := serve(t, newHello(), NewHTTP1Factory(Config{}), NewH2CFactory(Config{}))

	req := must.OK1(http.NewRequestWithContext(test.Context(t), http.MethodPost, "http://local/", strings.NewReader("body")))
	req.Header.Set("Connection", "Upgrade, HTTP2-Settings")
	req.Header.Set("Upgrade", H2C)
	req.Header.Set("HTTP2-Settings", "")
	res, err := NewLocalClient(transport).Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, res.ProtoMajor)
}

func TestHTTP1FactoryRestart(t *testing.T) {
	t.Parallel()

	ctx := test.Context(t)
	hello := newHello()
	require.NoError(t, hello.Start(ctx))
	f := NewHTTP1Factory(Config{ShutdownTimeout: time.Second})
	c, transport := connector.NewLocalConnector(connector.Config{Server: hello, Factories: []connector.ConnectionFactory{f}})
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Start(ctx))
		assert.True(t, f.IsStarted())
		res, _ := get(t, NewLocalClient(transport), "http://local/")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		require.NoError(t, c.Stop(ctx))
		assert.True(t, f.IsStopped())
	}
}

func TestHTTP1NotStarted(t *testing.T) {
	t.Parallel()

	f := NewHTTP1Factory(Config{})
	conn, err := f.NewConnection(nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, conn.Serve(test.Context(t)), errNotStarted)
}

func TestWriteSwitchingProtocols(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	rw := bufio.NewReadWriter(bufio.NewReader(strings.NewReader("")), bufio.NewWriter(&out))
	require.NoError(t, writeSwitchingProtocols(rw, http.Header{"Upgrade": {"h2c"}, "Connection": {"Upgrade"}}))
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n", out.String())
}
