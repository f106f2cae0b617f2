package handler

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ridge/must/v2"
)

// Context is a wrapper that only passes requests under a path prefix and,
// optionally, for a set of virtual hosts.
//
// The child sees the target with the prefix removed. Virtual hosts are host
// names ("example.com"), wildcards matching any subdomain ("*.example.com")
// or connector names prefixed with "@" ("@admin") matching requests received
// by the connector with that name.
type Context struct {
	Wrapper
	path   string
	vhosts []string
}

// NewContext creates a Context for the path prefix wrapping h
func NewContext(path string, h Handler, vhosts ...string) *Context {
	path = strings.TrimSuffix(path, "/")
	c := &Context{path: path}
	for _, vh := range vhosts {
		c.vhosts = append(c.vhosts, strings.ToLower(vh))
	}
	must.OK(c.SetHandler(h))
	return c
}

// ContextPath returns the path prefix, "" for the root context
func (c *Context) ContextPath() string {
	return c.path
}

// VirtualHosts returns the virtual hosts the context is limited to
func (c *Context) VirtualHosts() []string {
	return append([]string(nil), c.vhosts...)
}

// Handle passes matching requests to the child. Does nothing unless the
// context is started.
func (c *Context) Handle(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
	if !c.IsStarted() || !c.matchHost(r.Host, base.Connector()) {
		return nil
	}
	rest, ok := c.matchPath(target)
	if !ok {
		return nil
	}
	if rest != target {
		r = stripPath(r, rest)
	}
	return c.Wrapper.Handle(rest, base, w, r)
}

func (c *Context) matchHost(hostport, connector string) bool {
	if len(c.vhosts) == 0 {
		return true
	}
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	for _, vh := range c.vhosts {
		switch {
		case strings.HasPrefix(vh, "@"):
			if connector != "" && strings.EqualFold(vh[1:], connector) {
				return true
			}
		case strings.HasPrefix(vh, "*."):
			if strings.HasSuffix(host, vh[1:]) {
				return true
			}
		case vh == host:
			return true
		}
	}
	return false
}

func (c *Context) matchPath(target string) (string, bool) {
	if c.path == "" {
		return target, true
	}
	if target == c.path {
		return "/", true
	}
	if strings.HasPrefix(target, c.path+"/") {
		return target[len(c.path):], true
	}
	return "", false
}

func stripPath(r *http.Request, path string) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.URL = new(url.URL)
	*r2.URL = *r.URL
	r2.URL.Path = path
	r2.URL.RawPath = ""
	return r2
}
