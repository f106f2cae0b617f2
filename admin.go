package harbor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/thttp"
	"github.com/ridge/harbor/tlog"
)

// EndpointInfo describes an endpoint
type EndpointInfo struct {
	ID         string    `json:"id"`
	Slot       int       `json:"slot"`
	Protocol   string    `json:"protocol"`
	Remote     string    `json:"remote"`
	Secure     bool      `json:"secure"`
	Opened     time.Time `json:"opened"`
	LastActive time.Time `json:"lastActive"`
}

func endpointInfo(ep *connector.Endpoint) EndpointInfo {
	info := EndpointInfo{
		ID:         ep.ID(),
		Slot:       ep.Slot(),
		Protocol:   ep.Protocol(),
		Secure:     ep.TLS() != nil,
		Opened:     ep.Opened(),
		LastActive: ep.LastActive(),
	}
	if addr := ep.RemoteAddr(); addr != nil {
		info.Remote = addr.String()
	}
	return info
}

// HandlerInfo describes a handler and its children
type HandlerInfo struct {
	Type         string        `json:"type"`
	State        string        `json:"state"`
	ContextPath  string        `json:"contextPath,omitempty"`
	VirtualHosts []string      `json:"virtualHosts,omitempty"`
	Handlers     []HandlerInfo `json:"handlers,omitempty"`
}

func handlerInfo(h handler.Handler, visited map[any]bool) HandlerInfo {
	info := HandlerInfo{
		Type:  strings.TrimPrefix(fmt.Sprintf("%T", h), "*"),
		State: h.State().String(),
	}
	if c, ok := h.(*handler.Context); ok {
		info.ContextPath = c.ContextPath()
		info.VirtualHosts = c.VirtualHosts()
	}
	id := handler.Identity(h)
	if visited[id] {
		return info
	}
	visited[id] = true
	if c, ok := h.(handler.Container); ok {
		for _, child := range c.Handlers() {
			if child != nil {
				info.Handlers = append(info.Handlers, handlerInfo(child, visited))
			}
		}
	}
	return info
}

// AdminRouter returns the read-only management API of the server:
//
//	GET /                           server and its connectors
//	GET /connectors                 connectors
//	GET /connectors/{name}          a connector
//	GET /connectors/{name}/endpoints  endpoints of a connector
//	GET /handlers                   handler tree
func AdminRouter(s *Server) http.Handler {
	a := admin{server: s}

	router := mux.NewRouter()
	router.Path("/").Methods(http.MethodGet).HandlerFunc(a.info)
	router.Path("/connectors").Methods(http.MethodGet).HandlerFunc(a.connectors)
	router.Path("/connectors/{name}").Methods(http.MethodGet).HandlerFunc(a.connector)
	router.Path("/connectors/{name}/endpoints").Methods(http.MethodGet).HandlerFunc(a.endpoints)
	router.Path("/handlers").Methods(http.MethodGet).HandlerFunc(a.handlers)
	return thttp.CORS(router)
}

type admin struct {
	server *Server
}

func (a admin) info(w http.ResponseWriter, r *http.Request) {
	thttp.JSONResult(tlog.Get(r.Context()), w, a.server.Info(), http.StatusOK)
}

func (a admin) connectors(w http.ResponseWriter, r *http.Request) {
	thttp.JSONResult(tlog.Get(r.Context()), w, a.server.Info().Connectors, http.StatusOK)
}

func (a admin) lookup(w http.ResponseWriter, r *http.Request) *connector.Connector {
	name := mux.Vars(r)["name"]
	c := a.server.Connector(name)
	if c == nil {
		thttp.JSONResult(tlog.Get(r.Context()), w, map[string]string{"error": "no connector " + name}, http.StatusNotFound)
	}
	return c
}

func (a admin) connector(w http.ResponseWriter, r *http.Request) {
	if c := a.lookup(w, r); c != nil {
		thttp.JSONResult(tlog.Get(r.Context()), w, c.Info(), http.StatusOK)
	}
}

func (a admin) endpoints(w http.ResponseWriter, r *http.Request) {
	c := a.lookup(w, r)
	if c == nil {
		return
	}
	res := []EndpointInfo{}
	for _, ep := range c.ConnectedEndpoints() {
		res = append(res, endpointInfo(ep))
	}
	thttp.JSONResult(tlog.Get(r.Context()), w, res, http.StatusOK)
}

func (a admin) handlers(w http.ResponseWriter, r *http.Request) {
	thttp.JSONResult(tlog.Get(r.Context()), w, handlerInfo(a.server, map[any]bool{}), http.StatusOK)
}
