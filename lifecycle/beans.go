package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Beans is an ordered set of values managed by an owning component.
//
// Values implementing Component are started in insertion order and stopped in
// reverse order. Other values are only tracked. Values must be comparable.
type Beans struct {
	mu    sync.Mutex
	beans []any
}

// Add appends a bean, returns false if it is already present
func (b *Beans) Add(bean any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if slices.Contains(b.beans, bean) {
		return false
	}
	b.beans = append(b.beans, bean)
	return true
}

// Remove removes a bean, returns false if it was not present
func (b *Beans) Remove(bean any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.beans, bean)
	if i < 0 {
		return false
	}
	b.beans = slices.Delete(b.beans, i, i+1)
	return true
}

// Contains returns true if the bean is present
func (b *Beans) Contains(bean any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Contains(b.beans, bean)
}

// All returns a snapshot of all beans in insertion order
func (b *Beans) All() []any {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.beans)
}

// Start starts the beans in order. If one fails, the ones already started
// are stopped in reverse order and the error is returned.
func (b *Beans) Start(ctx context.Context) error {
	beans := b.All()
	for i, bean := range beans {
		if err := StartBean(ctx, bean); err != nil {
			for j := i - 1; j >= 0; j-- {
				err = multierr.Append(err, StopBean(ctx, beans[j]))
			}
			return err
		}
	}
	return nil
}

// Stop stops all beans in reverse order, returning all the errors
func (b *Beans) Stop(ctx context.Context) error {
	beans := b.All()
	var err error
	for i := len(beans) - 1; i >= 0; i-- {
		err = multierr.Append(err, StopBean(ctx, beans[i]))
	}
	return err
}

// StartBean starts the value if it is a Component
func StartBean(ctx context.Context, bean any) error {
	if c, ok := bean.(Component); ok {
		return c.Start(ctx)
	}
	return nil
}

// StopBean stops the value if it is a Component
func StopBean(ctx context.Context, bean any) error {
	if c, ok := bean.(Component); ok {
		return c.Stop(ctx)
	}
	return nil
}
