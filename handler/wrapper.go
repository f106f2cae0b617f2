package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ridge/must/v2"
)

// Wrapper is a container with at most one child. It passes every request to
// the child.
type Wrapper struct {
	Base

	hmu     sync.Mutex
	handler Handler
}

// NewWrapper creates a Wrapper around h
func NewWrapper(h Handler) *Wrapper {
	w := &Wrapper{}
	must.OK(w.SetHandler(h))
	return w
}

func (w *Wrapper) node() any {
	return w
}

func (w *Wrapper) wrapper() *Wrapper {
	return w
}

// Handler returns the child
func (w *Wrapper) Handler() Handler {
	w.hmu.Lock()
	defer w.hmu.Unlock()
	return w.handler
}

// Handlers returns the child as a list
func (w *Wrapper) Handlers() []Handler {
	if h := w.Handler(); h != nil {
		return []Handler{h}
	}
	return nil
}

// SetHandler replaces the child. Fails with ErrStarted if the wrapper is
// started and with ErrLoop if h is the wrapper or contains it. The previous
// child stays in place on failure.
func (w *Wrapper) SetHandler(h Handler) error {
	if w.IsStarted() {
		return fmt.Errorf("cannot set handler: %w", ErrStarted)
	}
	if err := checkLoop(w, h); err != nil {
		return fmt.Errorf("cannot set handler: %w", err)
	}
	if h != nil {
		h.SetServer(w.Server())
	}

	w.hmu.Lock()
	defer w.hmu.Unlock()
	w.handler = h
	return nil
}

// InsertHandler splices a chain of wrappers between this wrapper and its
// child: the current child becomes the child of the last wrapper in the chain,
// and the chain becomes the child of this wrapper.
//
// The last wrapper of the chain must not have a child, otherwise
// InsertHandler fails with ErrBadTail and nothing changes.
func (w *Wrapper) InsertHandler(chain Handler) error {
	head, ok := asWrapper(chain)
	if !ok {
		return fmt.Errorf("cannot insert %T: %w", chain, ErrBadTail)
	}
	tail := head
	for {
		next, ok := asWrapper(tail.Handler())
		if !ok {
			break
		}
		tail = next
	}
	if tail.Handler() != nil {
		return ErrBadTail
	}

	next := w.Handler()
	if err := tail.SetHandler(next); err != nil {
		return err
	}
	if err := w.SetHandler(chain); err != nil {
		must.OK(tail.SetHandler(nil))
		if next != nil {
			next.SetServer(w.Server())
		}
		return err
	}
	return nil
}

// SetServer attaches the wrapper and its child to a server
func (w *Wrapper) SetServer(s Server) {
	w.Base.SetServer(s)
	if h := w.Handler(); h != nil {
		h.SetServer(s)
	}
}

// Start starts the wrapper and its child
func (w *Wrapper) Start(ctx context.Context) error {
	return w.Machine.Start(ctx, func(ctx context.Context) error {
		if h := w.Handler(); h != nil {
			return h.Start(ctx)
		}
		return nil
	})
}

// Stop stops the child and the wrapper
func (w *Wrapper) Stop(ctx context.Context) error {
	return w.Machine.Stop(ctx, func(ctx context.Context) error {
		if h := w.Handler(); h != nil {
			return h.Stop(ctx)
		}
		return nil
	})
}

// Handle passes the request to the child, if any
func (w *Wrapper) Handle(target string, base *Request, rw http.ResponseWriter, r *http.Request) error {
	if h := w.Handler(); h != nil {
		return h.Handle(target, base, rw, r)
	}
	return nil
}

// Destroy detaches and destroys the child, then the wrapper
func (w *Wrapper) Destroy() error {
	if !w.IsStopped() {
		return ErrNotStopped
	}
	child := w.Handler()
	if child != nil {
		w.hmu.Lock()
		w.handler = nil
		w.hmu.Unlock()
		if err := child.Destroy(); err != nil {
			return err
		}
	}
	return w.Base.Destroy()
}

type wrapperNode interface {
	wrapper() *Wrapper
}

func asWrapper(h Handler) (*Wrapper, bool) {
	if wn, ok := h.(wrapperNode); ok {
		return wn.wrapper(), true
	}
	return nil, false
}
