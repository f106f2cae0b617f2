package thttp

import (
	"context"
	"net/http"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
)

type endpointKeyType int

const endpointKey endpointKeyType = iota

func withEndpoint(ctx context.Context, ep *connector.Endpoint) context.Context {
	return context.WithValue(ctx, endpointKey, ep)
}

// EndpointFromContext returns the endpoint the request with the context was
// received on, nil if there is none
func EndpointFromContext(ctx context.Context) *connector.Endpoint {
	ep, _ := ctx.Value(endpointKey).(*connector.Endpoint)
	return ep
}

// Dispatch passes the request to the handler tree of the connector that
// accepted it.
//
// A handler error results in 500 unless a response is already started. A
// request left unhandled gets 404.
func Dispatch(w http.ResponseWriter, r *http.Request) {
	ep := EndpointFromContext(r.Context())
	if ep == nil || ep.Connector() == nil || ep.Connector().Server() == nil {
		http.NotFound(w, r)
		return
	}
	c := ep.Connector()
	if r.TLS == nil {
		r.TLS = ep.TLS()
	}

	base := handler.NewRequest(c.Name(), ep.ID(), r.TLS != nil)
	var status int
	cw := CaptureStatus(w, &status)
	err := c.Server().Handle(r.URL.Path, base, cw, r)
	switch {
	case err != nil:
		tlog.Get(r.Context()).Warn("Request failed", zap.String("connector", c.Name()), zap.Error(err))
		if status == 0 {
			http.Error(cw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	case !base.Handled() && status == 0:
		http.NotFound(cw, r)
	}
}
