package harbor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminGet(t *testing.T, h http.Handler, path string, res any) int {
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(test.Context(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if res != nil && rec.Code == http.StatusOK {
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), res))
	}
	return rec.Code
}

func TestAdminRouter(t *testing.T) {
	ctx := test.Context(t)
	s := NewServer(Config{Name: "admin-test"})
	require.NoError(t, s.SetHandler(handler.NewList(
		handler.NewContext("/app", newHello(), "@main"),
		newHello(),
	)))
	c, transport := addLocal(t, s, "main")
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, s.Stop(ctx))
	})
	router := AdminRouter(s)

	var info Info
	require.Equal(t, http.StatusOK, adminGet(t, router, "/", &info))
	assert.Equal(t, "admin-test", info.Name)
	assert.Equal(t, "started", info.State)
	require.Len(t, info.Connectors, 1)
	assert.Equal(t, "main", info.Connectors[0].Name)
	assert.Equal(t, []string{"http/1.1"}, info.Connectors[0].Protocols)

	var infos []connector.Info
	require.Equal(t, http.StatusOK, adminGet(t, router, "/connectors", &infos))
	require.Len(t, infos, 1)

	var one connector.Info
	require.Equal(t, http.StatusOK, adminGet(t, router, "/connectors/main", &one))
	assert.Equal(t, "local", one.Address)
	assert.True(t, one.Accepting)
	assert.Equal(t, http.StatusNotFound, adminGet(t, router, "/connectors/missing", nil))

	conn, err := transport.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		eps := c.ConnectedEndpoints()
		return len(eps) == 1 && eps[0].Protocol() == "http/1.1"
	}, 5*time.Second, 10*time.Millisecond)

	var endpoints []EndpointInfo
	require.Equal(t, http.StatusOK, adminGet(t, router, "/connectors/main/endpoints", &endpoints))
	require.Len(t, endpoints, 1)
	assert.Equal(t, "http/1.1", endpoints[0].Protocol)
	assert.False(t, endpoints[0].Secure)
	assert.NotEmpty(t, endpoints[0].ID)

	var tree HandlerInfo
	require.Equal(t, http.StatusOK, adminGet(t, router, "/handlers", &tree))
	assert.Equal(t, "harbor.Server", tree.Type)
	assert.Equal(t, "started", tree.State)
	require.Len(t, tree.Handlers, 1)
	list := tree.Handlers[0]
	assert.Equal(t, "handler.List", list.Type)
	require.Len(t, list.Handlers, 2)
	assert.Equal(t, "handler.Context", list.Handlers[0].Type)
	assert.Equal(t, "/app", list.Handlers[0].ContextPath)
	assert.Equal(t, []string{"@main"}, list.Handlers[0].VirtualHosts)
	require.Len(t, list.Handlers[0].Handlers, 1)
	assert.Equal(t, "handler.Leaf", list.Handlers[0].Handlers[0].Type)

	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		req := httptest.NewRequest(http.MethodPost, "/connectors", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}())
}

// labeled is a handler of a value type that cannot be compared
type labeled struct {
	*handler.Leaf
	labels map[string]string
}

func TestAdminHandlersValueType(t *testing.T) {
	ctx := test.Context(t)
	s := NewServer(Config{})
	require.NoError(t, s.SetHandler(handler.NewCollection(
		labeled{Leaf: newHello(), labels: map[string]string{"team": "web"}},
		newHello(),
		handler.NewWrapper(newHello()),
	)))
	addLocal(t, s, "main")
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, s.Stop(ctx))
	})

	var tree HandlerInfo
	require.Equal(t, http.StatusOK, adminGet(t, AdminRouter(s), "/handlers", &tree))
	require.Len(t, tree.Handlers, 1)
	children := tree.Handlers[0].Handlers
	require.Len(t, children, 3)
	assert.Equal(t, "harbor.labeled", children[0].Type)
	assert.Equal(t, "handler.Leaf", children[1].Type)
	require.Len(t, children[2].Handlers, 1)
	assert.Equal(t, "handler.Leaf", children[2].Handlers[0].Type)
}
