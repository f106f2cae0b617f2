package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/must/v2"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Collection is a container that passes every request to all its children
// in order, regardless of whether the request has been handled.
//
// Errors returned by children are collected and returned after all children
// have run: a single error as is, several combined with multierr. Fatal
// errors (see IsFatal) are returned immediately and the remaining children
// are skipped. Panics propagate.
type Collection struct {
	Base
	mutableWhenRunning bool

	mu       sync.Mutex // serializes updates of handlers
	handlers atomic.Pointer[[]Handler]
	ctx      context.Context //nolint:containedctx // used to start handlers added while running
}

// NewCollection creates a Collection. The set of children can't be changed
// while the collection is started.
func NewCollection(handlers ...Handler) *Collection {
	c := &Collection{}
	must.OK(c.SetHandlers(handlers...))
	return c
}

// NewMutableCollection creates a Collection whose children can be changed
// while it is running. Added children are started, removed ones stopped.
func NewMutableCollection(handlers ...Handler) *Collection {
	c := &Collection{mutableWhenRunning: true}
	must.OK(c.SetHandlers(handlers...))
	return c
}

func (c *Collection) node() any {
	return c
}

func (c *Collection) load() []Handler {
	if p := c.handlers.Load(); p != nil {
		return *p
	}
	return nil
}

// Handlers returns the children
func (c *Collection) Handlers() []Handler {
	return slices.Clone(c.load())
}

// SetHandlers replaces the children
func (c *Collection) SetHandlers(handlers ...Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replace(handlers)
}

// AddHandler appends a child
func (c *Collection) AddHandler(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replace(append(slices.Clone(c.load()), h))
}

// PrependHandler inserts a child before all the others
func (c *Collection) PrependHandler(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replace(append([]Handler{h}, c.load()...))
}

// RemoveHandler removes a child
func (c *Collection) RemoveHandler(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := Identity(h)
	return c.replace(slices.DeleteFunc(slices.Clone(c.load()), func(child Handler) bool {
		return Identity(child) == id
	}))
}

func (c *Collection) replace(next []Handler) error {
	if !c.mutableWhenRunning && c.IsStarted() {
		return fmt.Errorf("cannot set handlers: %w", ErrStarted)
	}

	handlers := make([]Handler, 0, len(next))
	for _, h := range next {
		if h == nil {
			continue
		}
		if err := checkLoop(c, h); err != nil {
			return fmt.Errorf("cannot set handlers: %w", err)
		}
		handlers = append(handlers, h)
	}

	old := c.load()
	var added, removed []Handler
	if c.IsRunning() {
		added = difference(handlers, old)
		removed = difference(old, handlers)
		if err := startAll(c.ctx, added); err != nil {
			return err
		}
	}

	srv := c.Server()
	for _, h := range handlers {
		h.SetServer(srv)
	}
	c.handlers.Store(&handlers)

	if len(removed) > 0 {
		return stopAll(c.ctx, removed)
	}
	return nil
}

func difference(a, b []Handler) []Handler {
	var res []Handler
	for _, h := range a {
		id := Identity(h)
		if !slices.ContainsFunc(b, func(other Handler) bool { return Identity(other) == id }) {
			res = append(res, h)
		}
	}
	return res
}

// SetServer attaches the collection and its children to a server
func (c *Collection) SetServer(s Server) {
	c.Base.SetServer(s)
	for _, h := range c.load() {
		h.SetServer(s)
	}
}

// Start starts the collection and its children in order
func (c *Collection) Start(ctx context.Context) error {
	return c.Machine.Start(ctx, func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.ctx = tcontext.Reopen(ctx)
		return startAll(ctx, c.load())
	})
}

// Stop stops the children in reverse order, then the collection
func (c *Collection) Stop(ctx context.Context) error {
	return c.Machine.Stop(ctx, func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return stopAll(ctx, c.load())
	})
}

// Handle passes the request to every child. Does nothing unless the
// collection is started.
func (c *Collection) Handle(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
	if !c.IsStarted() {
		return nil
	}

	var errs []error
	for _, h := range c.load() {
		if err := h.Handle(target, base, w, r); err != nil {
			if IsFatal(err) {
				return err
			}
			errs = append(errs, err)
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return multierr.Combine(errs...)
	}
}

// Destroy detaches and destroys the children, then the collection
func (c *Collection) Destroy() error {
	if !c.IsStopped() {
		return ErrNotStopped
	}
	c.mu.Lock()
	children := c.load()
	c.handlers.Store(nil)
	c.mu.Unlock()

	var err error
	for _, child := range children {
		err = multierr.Append(err, child.Destroy())
	}
	if err != nil {
		return err
	}
	return c.Base.Destroy()
}

// List is a container that passes a request to its children in order until
// one of them marks it handled. The first error returned by a child stops
// the iteration and is returned.
type List struct {
	Collection
}

// NewList creates a List
func NewList(handlers ...Handler) *List {
	l := &List{}
	must.OK(l.SetHandlers(handlers...))
	return l
}

// NewMutableList creates a List whose children can be changed while it is
// running
func NewMutableList(handlers ...Handler) *List {
	l := &List{Collection: Collection{mutableWhenRunning: true}}
	must.OK(l.SetHandlers(handlers...))
	return l
}

// Handle passes the request to the children until it is handled. Does
// nothing unless the list is started.
func (l *List) Handle(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
	if !l.IsStarted() {
		return nil
	}

	for _, h := range l.load() {
		if err := h.Handle(target, base, w, r); err != nil {
			return err
		}
		if base.Handled() {
			return nil
		}
	}
	return nil
}
