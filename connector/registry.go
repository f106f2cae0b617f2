package connector

import (
	"context"
	"strings"

	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// beanChanges are factories to start and stop after a registry update
type beanChanges struct {
	added   []ConnectionFactory
	removed []ConnectionFactory
}

func (ch *beanChanges) merge(other beanChanges) {
	ch.added = append(ch.added, other.added...)
	ch.removed = append(ch.removed, other.removed...)
}

func normalize(protocol string) string {
	return strings.ToLower(protocol)
}

// bindLocked binds a protocol key to a factory at the end of the order,
// replacing the previous binding
func (c *Connector) bindLocked(key string, f ConnectionFactory) (old ConnectionFactory) {
	if old = c.factories[key]; old != nil {
		c.keys = slices.DeleteFunc(c.keys, func(k string) bool { return k == key })
	}
	c.factories[key] = f
	c.keys = append(c.keys, key)
	return old
}

func (c *Connector) referencedLocked(f ConnectionFactory) bool {
	for _, bound := range c.factories {
		if bound == f {
			return true
		}
	}
	return false
}

// releaseLocked forgets the factories that are no longer bound to any key
func (c *Connector) releaseLocked(candidates []ConnectionFactory) []ConnectionFactory {
	var released []ConnectionFactory
	for _, f := range candidates {
		if !c.referencedLocked(f) && c.beans.Remove(f) {
			released = append(released, f)
		}
	}
	return released
}

func (c *Connector) manageLocked(f ConnectionFactory) []ConnectionFactory {
	if c.beans.Add(f) {
		return []ConnectionFactory{f}
	}
	return nil
}

func (c *Connector) addLocked(f ConnectionFactory) beanChanges {
	var displaced []ConnectionFactory
	for _, protocol := range f.Protocols() {
		old := c.bindLocked(normalize(protocol), f)
		if old == nil || old == f {
			continue
		}
		if normalize(old.Protocol()) == c.defaultProtocol {
			c.defaultProtocol = ""
		}
		displaced = append(displaced, old)
	}
	changes := beanChanges{
		removed: c.releaseLocked(displaced),
		added:   c.manageLocked(f),
	}
	if c.defaultProtocol == "" {
		c.defaultProtocol = normalize(f.Protocol())
	}
	return changes
}

func (c *Connector) clearLocked() beanChanges {
	var all []ConnectionFactory
	for _, key := range c.keys {
		if f := c.factories[key]; !slices.Contains(all, f) {
			all = append(all, f)
		}
	}
	c.factories = map[string]ConnectionFactory{}
	c.keys = nil
	return beanChanges{removed: c.releaseLocked(all)}
}

func (c *Connector) refreshDefaultLocked() {
	if c.IsRunning() {
		c.defaultFactory = c.factories[c.defaultProtocol]
	}
}

// update applies a registry change under the lock, then starts new and stops
// released factories if the connector is running
func (c *Connector) update(fn func() beanChanges) error {
	c.mu.Lock()
	changes := fn()
	c.refreshDefaultLocked()
	ctx := c.ctx
	c.mu.Unlock()

	if ctx == nil {
		return nil
	}
	return applyBeanChanges(ctx, changes)
}

func applyBeanChanges(ctx context.Context, changes beanChanges) error {
	var err error
	for _, f := range changes.added {
		err = multierr.Append(err, lifecycle.StartBean(ctx, f))
	}
	for _, f := range changes.removed {
		if stopErr := lifecycle.StopBean(ctx, f); stopErr != nil {
			tlog.Get(ctx).Warn("Failed to stop connection factory", zap.String("protocol", f.Protocol()), zap.Error(stopErr))
		}
	}
	return err
}

// AddConnectionFactory binds the factory to all its protocol names,
// replacing previous bindings. Factories left without bindings are released.
// The factory becomes the default if there is no default protocol.
//
// A factory added to a running connector is started.
func (c *Connector) AddConnectionFactory(f ConnectionFactory) error {
	return c.update(func() beanChanges {
		return c.addLocked(f)
	})
}

// AddFirstConnectionFactory adds the factory before all others and makes it
// the default. Existing bindings of its protocol names are dropped.
func (c *Connector) AddFirstConnectionFactory(f ConnectionFactory) error {
	return c.update(func() beanChanges {
		oldKeys, oldFactories := c.keys, c.factories
		c.keys, c.factories = nil, map[string]ConnectionFactory{}

		changes := c.addLocked(f)
		var dropped []ConnectionFactory
		for _, key := range oldKeys {
			old := oldFactories[key]
			if _, taken := c.factories[key]; taken {
				if old != f {
					dropped = append(dropped, old)
				}
				continue
			}
			c.bindLocked(key, old)
		}
		changes.removed = append(changes.removed, c.releaseLocked(dropped)...)
		c.defaultProtocol = normalize(f.Protocol())
		return changes
	})
}

// AddIfAbsentConnectionFactory binds the factory to its primary protocol
// name unless that name is already bound. Returns true if the factory was
// added.
func (c *Connector) AddIfAbsentConnectionFactory(f ConnectionFactory) (bool, error) {
	key := normalize(f.Protocol())
	added := false
	err := c.update(func() beanChanges {
		if _, ok := c.factories[key]; ok {
			return beanChanges{}
		}
		added = true
		c.bindLocked(key, f)
		changes := beanChanges{added: c.manageLocked(f)}
		if c.defaultProtocol == "" {
			c.defaultProtocol = key
		}
		return changes
	})
	if !added {
		tlog.Get(c.runCtx()).Debug("Connection factory already present", zap.String("protocol", key))
	}
	return added, err
}

// RemoveConnectionFactory unbinds the protocol name and returns the factory
// bound to it. The factory is released if it has no bindings left. The
// default protocol is not changed.
func (c *Connector) RemoveConnectionFactory(protocol string) ConnectionFactory {
	key := normalize(protocol)
	var removed ConnectionFactory
	_ = c.update(func() beanChanges {
		removed = c.factories[key]
		if removed == nil {
			return beanChanges{}
		}
		delete(c.factories, key)
		c.keys = slices.DeleteFunc(c.keys, func(k string) bool { return k == key })
		return beanChanges{removed: c.releaseLocked([]ConnectionFactory{removed})}
	})
	return removed
}

// SetConnectionFactories replaces all factories. Nil factories are skipped.
func (c *Connector) SetConnectionFactories(factories ...ConnectionFactory) error {
	return c.update(func() beanChanges {
		changes := c.clearLocked()
		for _, f := range factories {
			if f != nil {
				changes.merge(c.addLocked(f))
			}
		}
		// a factory that is released and added back is neither stopped nor started
		changes.removed = slices.DeleteFunc(changes.removed, func(f ConnectionFactory) bool {
			if i := slices.Index(changes.added, f); i >= 0 {
				changes.added = slices.Delete(changes.added, i, i+1)
				return true
			}
			return false
		})
		return changes
	})
}

// ClearConnectionFactories removes all factories. The default protocol is
// not changed.
func (c *Connector) ClearConnectionFactories() {
	_ = c.update(c.clearLocked)
}

// ConnectionFactory returns the factory bound to the protocol name, nil if
// there is none
func (c *Connector) ConnectionFactory(protocol string) ConnectionFactory {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.factories[normalize(protocol)]
}

// ConnectionFactories returns the distinct factories in binding order
func (c *Connector) ConnectionFactories() []ConnectionFactory {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res []ConnectionFactory
	for _, key := range c.keys {
		if f := c.factories[key]; !slices.Contains(res, f) {
			res = append(res, f)
		}
	}
	return res
}

// Protocols returns the bound protocol names in binding order
func (c *Connector) Protocols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.keys)
}

// ConnectionFactoryOf returns the first factory of the type T
func ConnectionFactoryOf[T any](c *Connector) (T, bool) {
	for _, f := range c.ConnectionFactories() {
		if t, ok := f.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// DefaultProtocol returns the protocol of new endpoints
func (c *Connector) DefaultProtocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.defaultProtocol
}

// SetDefaultProtocol sets the protocol of new endpoints
func (c *Connector) SetDefaultProtocol(protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defaultProtocol = normalize(protocol)
	c.refreshDefaultLocked()
}

// DefaultConnectionFactory returns the factory of the default protocol, nil
// if there is none
func (c *Connector) DefaultConnectionFactory() ConnectionFactory {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsRunning() {
		return c.defaultFactory
	}
	return c.factories[c.defaultProtocol]
}
