package handler

import (
	"context"
	"reflect"

	"go.uber.org/multierr"
)

// Container is a handler with children.
//
// The set of containers is closed: Wrapper, List, Collection and the types
// embedding them.
type Container interface {
	Handler

	// Handlers returns the direct children
	Handlers() []Handler

	// node returns the container that identifies this one in the tree.
	// For types embedding a container it is the embedded container.
	node() any
}

type valueKey struct{ _ byte }

// Identity returns the key of h in a handler tree. Types embedding a
// container share its key. A handler of a non-comparable value type gets a
// fresh key on every call.
func Identity(h Handler) any {
	if c, ok := h.(Container); ok {
		return c.node()
	}
	if !reflect.TypeOf(h).Comparable() {
		return &valueKey{}
	}
	return h
}

// ChildHandlers returns all the handlers below the container, depth first
func ChildHandlers(c Container) []Handler {
	var res []Handler
	visited := map[any]bool{c.node(): true}

	var expand func(c Container)
	expand = func(c Container) {
		for _, h := range c.Handlers() {
			if h == nil {
				continue
			}
			id := Identity(h)
			if visited[id] {
				continue
			}
			visited[id] = true
			res = append(res, h)
			if cc, ok := h.(Container); ok {
				expand(cc)
			}
		}
	}
	expand(c)
	return res
}

// ChildHandlersOf returns all the handlers of type T below the container,
// depth first
func ChildHandlersOf[T any](c Container) []T {
	var res []T
	for _, h := range ChildHandlers(c) {
		if t, ok := h.(T); ok {
			res = append(res, t)
		}
	}
	return res
}

// ChildHandlerOf returns the first handler of type T below the container
func ChildHandlerOf[T any](c Container) (T, bool) {
	for _, h := range ChildHandlers(c) {
		if t, ok := h.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// checkLoop returns ErrLoop if attaching h under the container identified by
// parent would create a cycle
func checkLoop(parent any, h Handler) error {
	if h == nil {
		return nil
	}
	if Identity(h) == parent {
		return ErrLoop
	}
	if c, ok := h.(Container); ok {
		for _, child := range ChildHandlers(c) {
			if Identity(child) == parent {
				return ErrLoop
			}
		}
	}
	return nil
}

func startAll(ctx context.Context, handlers []Handler) error {
	for i, h := range handlers {
		if err := h.Start(ctx); err != nil {
			return multierr.Append(err, stopAll(ctx, handlers[:i]))
		}
	}
	return nil
}

func stopAll(ctx context.Context, handlers []Handler) error {
	var err error
	for i := len(handlers) - 1; i >= 0; i-- {
		err = multierr.Append(err, handlers[i].Stop(ctx))
	}
	return err
}
