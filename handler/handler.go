// Package handler implements the request handler tree: leaf handlers and the
// three composition strategies, Wrapper, List and Collection.
//
// A tree is assembled while it is stopped, started together with the server
// and then receives requests through Handle. The tree must stay acyclic:
// attaching a handler that already contains its prospective parent fails
// with ErrLoop.
package handler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ridge/harbor/lifecycle"
)

// Handler processes requests
type Handler interface {
	lifecycle.Component

	// Handle processes a request. It may generate the complete response,
	// modify the request or the response and let later handlers continue,
	// or do nothing. A handler that generates the response calls
	// base.SetHandled.
	Handle(target string, base *Request, w http.ResponseWriter, r *http.Request) error

	// Server returns the server the handler is attached to
	Server() Server

	// SetServer attaches the handler to a server. Containers attach their
	// children too.
	SetServer(s Server)

	// Destroy releases the handler. Only a stopped handler can be destroyed.
	Destroy() error
}

// Server is the root of a handler tree
type Server interface {
	Handler
	Name() string
}

// Request is the state of a request shared by all handlers processing it
type Request struct {
	connector string
	endpoint  string
	secure    bool
	handled   atomic.Bool
}

// NewRequest creates the base request for a request received by the named
// connector on the given endpoint
func NewRequest(connector, endpoint string, secure bool) *Request {
	return &Request{connector: connector, endpoint: endpoint, secure: secure}
}

// Connector returns the name of the connector that received the request
func (r *Request) Connector() string {
	return r.connector
}

// Endpoint returns the ID of the endpoint that received the request
func (r *Request) Endpoint() string {
	return r.endpoint
}

// Secure returns true if the request arrived over TLS
func (r *Request) Secure() bool {
	return r.secure
}

// Handled returns true once a handler has generated the response
func (r *Request) Handled() bool {
	return r.handled.Load()
}

// SetHandled marks the request handled or not handled
func (r *Request) SetHandled(handled bool) {
	r.handled.Store(handled)
}

// Base implements the lifecycle and server reference of a handler. Handler
// types embed it and provide Handle.
type Base struct {
	lifecycle.Machine

	mu     sync.Mutex
	server Server
}

// Start starts the handler
func (b *Base) Start(ctx context.Context) error {
	return b.Machine.Start(ctx, nil)
}

// Stop stops the handler
func (b *Base) Stop(ctx context.Context) error {
	return b.Machine.Stop(ctx, nil)
}

// Server returns the server the handler is attached to
func (b *Base) Server() Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.server
}

// SetServer attaches the handler to a server
func (b *Base) SetServer(s Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.server = s
}

// Destroy detaches a stopped handler from its server
func (b *Base) Destroy() error {
	if !b.IsStopped() {
		return ErrNotStopped
	}
	b.SetServer(nil)
	return nil
}

// HandleFunc is the signature of Handler.Handle
type HandleFunc func(target string, base *Request, w http.ResponseWriter, r *http.Request) error

// Leaf is a handler without children calling a function
type Leaf struct {
	Base
	fn HandleFunc
}

// New creates a leaf handler calling fn
func New(fn HandleFunc) *Leaf {
	return &Leaf{fn: fn}
}

// Handle calls the function
func (l *Leaf) Handle(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
	return l.fn(target, base, w, r)
}

// HTTP creates a leaf handler serving requests with a standard http.Handler.
// Every request passed to it is marked handled.
func HTTP(h http.Handler) *Leaf {
	return New(func(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
		base.SetHandled(true)
		h.ServeHTTP(w, r)
		return nil
	})
}
