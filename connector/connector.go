package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/scheduler"
	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/harbor/tnet"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Errors
var (
	ErrNoDefaultProtocol = errors.New("no default protocol")
	ErrNoFactory         = errors.New("no connection factory")
	ErrProtocolCycle     = errors.New("connection factories form a cycle")
)

// Connector accepts connections from a Transport and serves them with
// connection factories
type Connector struct {
	lifecycle.Machine

	config    Config
	transport Transport
	endpoints *memdb.MemDB

	mu              sync.Mutex
	cond            *sync.Cond
	factories       map[string]ConnectionFactory
	keys            []string
	defaultProtocol string
	defaultFactory  ConnectionFactory
	beans           lifecycle.Beans
	accepting       bool
	acceptors       []*acceptor
	stopping        *latch
	ctx             context.Context
	connCtx         context.Context
	cancelAccept    context.CancelFunc
	cancelConns     context.CancelFunc
}

// New creates a connector accepting connections from the transport
func New(transport Transport, config Config) *Connector {
	c := &Connector{
		config:    config.withDefaults(),
		transport: transport,
		endpoints: newEndpointDB(),
		factories: map[string]ConnectionFactory{},
		accepting: true,
	}
	c.cond = sync.NewCond(&c.mu)
	for _, f := range c.config.Factories {
		if f != nil {
			c.addLocked(f)
		}
	}
	if c.config.DefaultProtocol != "" {
		c.defaultProtocol = normalize(c.config.DefaultProtocol)
	}
	return c
}

// Name returns the connector name
func (c *Connector) Name() string {
	return c.config.Name
}

func (c *Connector) label() string {
	if c.config.Name == "" {
		return "connector"
	}
	return c.config.Name
}

// Server returns the root handler of the connector
func (c *Connector) Server() handler.Handler {
	return c.config.Server
}

// Executor returns the executor of acceptors and connections
func (c *Connector) Executor() Executor {
	return c.config.Executor
}

// Scheduler returns the scheduler of idle timeouts
func (c *Connector) Scheduler() *scheduler.Scheduler[*Endpoint] {
	return c.config.Scheduler
}

// BufferPool returns the buffer pool shared by connections
func (c *Connector) BufferPool() BufferPool {
	return c.config.BufferPool
}

// IdleTimeout returns the idle timeout of endpoints, non-positive if disabled
func (c *Connector) IdleTimeout() time.Duration {
	return c.config.IdleTimeout
}

// Acceptors returns the number of acceptors
func (c *Connector) Acceptors() int {
	return c.config.Acceptors
}

// Transport returns the transport
func (c *Connector) Transport() Transport {
	return c.transport
}

// Addr returns the address the connector accepts connections on, nil if it
// is not started
func (c *Connector) Addr() net.Addr {
	return c.transport.Addr()
}

func (c *Connector) runCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Start validates the factories, opens the transport, starts the factories
// and spawns the acceptors
func (c *Connector) Start(ctx context.Context) error {
	return c.Machine.Start(ctx, c.doStart)
}

// Stop stops accepting, waits up to the stop timeout for the acceptors to
// exit, closes the endpoints and stops the factories
func (c *Connector) Stop(ctx context.Context) error {
	return c.Machine.Stop(ctx, c.doStop)
}

// Run starts the connector and stops it when ctx is closed
func (c *Connector) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := c.Stop(tcontext.Reopen(ctx)); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Connector) validateLocked() error {
	if c.defaultProtocol == "" {
		return ErrNoDefaultProtocol
	}
	if c.factories[c.defaultProtocol] == nil {
		return fmt.Errorf("%w for default protocol %q", ErrNoFactory, c.defaultProtocol)
	}

	// 0: not visited, 1: on the path, 2: done
	color := map[ConnectionFactory]int{}
	var visit func(f ConnectionFactory, path []string) error
	visit = func(f ConnectionFactory, path []string) error {
		path = append(path, f.Protocol())
		switch color[f] {
		case 1:
			return fmt.Errorf("%w: %s", ErrProtocolCycle, strings.Join(path, " -> "))
		case 2:
			return nil
		}
		color[f] = 1
		if chained, ok := f.(Chained); ok {
			for _, next := range chained.NextProtocols() {
				nf := c.factories[normalize(next)]
				if nf == nil {
					return fmt.Errorf("%w for protocol %q, next after %s", ErrNoFactory, next, f.Protocol())
				}
				if err := visit(nf, path); err != nil {
					return err
				}
			}
		}
		color[f] = 2
		return nil
	}
	for _, key := range c.keys {
		if err := visit(c.factories[key], nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) doStart(ctx context.Context) error {
	ctx = tlog.With(tcontext.Reopen(ctx), zap.String("connector", c.label()))
	logger := tlog.Get(ctx)

	n := c.config.Acceptors
	if cores := runtime.NumCPU(); n > cores {
		logger.Warn("Acceptors exceed CPUs", zap.Int("acceptors", n), zap.Int("cpus", cores))
	}

	c.mu.Lock()
	err := c.validateLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	if err := c.beans.Start(ctx); err != nil {
		_ = c.transport.Close()
		return err
	}

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	connCtx, cancelConns := context.WithCancel(ctx)
	stopping := newLatch(n)

	c.mu.Lock()
	c.ctx = ctx
	c.connCtx = connCtx
	c.cancelAccept = cancelAccept
	c.cancelConns = cancelConns
	c.stopping = stopping
	c.acceptors = make([]*acceptor, n)
	c.defaultFactory = c.factories[c.defaultProtocol]
	c.transport.SetAccepting(c.accepting)
	c.mu.Unlock()

	err = c.config.Executor.Execute(acceptCtx, c.label()+"-idle", c.runIdle)
	for i := 0; i < n && err == nil; i++ {
		a := newAcceptor(c, i, stopping)
		if err = c.config.Executor.Execute(acceptCtx, a.name, a.run); err != nil {
			for j := i; j < n; j++ {
				stopping.countDown()
			}
		}
	}
	if err != nil {
		_ = c.shutdown(ctx)
		return fmt.Errorf("failed to spawn acceptors: %w", err)
	}

	logger.Info("Connector started", zap.Stringer("address", c.transport.Addr()),
		zap.Strings("protocols", c.Protocols()), zap.String("default", c.DefaultProtocol()),
		zap.Int("acceptors", n))
	return nil
}

func (c *Connector) doStop(ctx context.Context) error {
	err := c.shutdown(ctx)
	tlog.Get(ctx).Info("Connector stopped", zap.String("connector", c.label()))
	return err
}

func (c *Connector) shutdown(ctx context.Context) error {
	c.mu.Lock()
	stopping, cancelAccept, cancelConns := c.stopping, c.cancelAccept, c.cancelConns
	n := len(c.acceptors)
	c.cond.Broadcast()
	c.mu.Unlock()

	if cancelAccept != nil {
		cancelAccept()
	}
	err := c.transport.Close()
	if tnet.IsClosedConnectionError(err) {
		err = nil
	}

	if timeout := c.config.StopTimeout; timeout > 0 && n > 0 && stopping != nil {
		if !stopping.await(ctx, timeout) {
			tlog.Get(ctx).Warn("Acceptors did not stop in time", zap.String("connector", c.label()),
				zap.Duration("timeout", timeout))
		}
	}

	for _, ep := range c.ConnectedEndpoints() {
		_ = ep.Close()
	}
	if cancelConns != nil {
		cancelConns()
	}
	err = multierr.Append(err, c.beans.Stop(ctx))

	c.mu.Lock()
	c.defaultFactory = nil
	c.ctx = nil
	c.connCtx = nil
	c.cancelAccept = nil
	c.cancelConns = nil
	c.mu.Unlock()
	return err
}

// Join waits for the acceptors of the current or last run to exit
func (c *Connector) Join(ctx context.Context) error {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()

	if stopping == nil {
		return nil
	}
	select {
	case <-stopping.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAccepting returns false if accepting is paused
func (c *Connector) IsAccepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accepting
}

// SetAccepting pauses or resumes accepting. Paused acceptors stay alive.
//
// The transport is updated under the same lock as the flag, so concurrent
// calls leave both in the state of the last call.
func (c *Connector) SetAccepting(accepting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accepting = accepting
	c.transport.SetAccepting(accepting)
	c.cond.Broadcast()
}

// AcceptorNames returns the names of live acceptors
func (c *Connector) AcceptorNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for _, a := range c.acceptors {
		if a != nil {
			names = append(names, a.name)
		}
	}
	return names
}

func (c *Connector) runIdle(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.config.Scheduler.Wait():
			now := time.Now()
			for _, ep := range c.config.Scheduler.Get() {
				ep.checkIdle(now)
			}
		}
	}
}

func (c *Connector) serveEndpoint(ctx context.Context, conn net.Conn, slot int) {
	ep := newEndpoint(c, conn, slot)
	c.endpointOpened(ep)
	logger := tlog.Get(ctx).With(zap.String("endpoint", ep.id), zap.Stringer("remote", conn.RemoteAddr()))

	f := c.DefaultConnectionFactory()
	if f == nil {
		logger.Warn("No default connection factory", zap.String("protocol", c.DefaultProtocol()))
		_ = ep.Close()
		return
	}
	connection, err := f.NewConnection(c, ep)
	if err != nil {
		logger.Debug("Failed to create connection", zap.String("protocol", f.Protocol()), zap.Error(err))
		_ = ep.Close()
		return
	}
	ep.SetProtocol(f.Protocol())

	c.mu.Lock()
	connCtx := c.connCtx
	c.mu.Unlock()
	if connCtx == nil {
		_ = ep.Close()
		return
	}

	err = c.config.Executor.Execute(tlog.WithLogger(connCtx, logger), "endpoint-"+ep.id, func(ctx context.Context) error {
		defer ep.Close()
		return connection.Serve(ctx)
	})
	if err != nil {
		logger.Warn("Failed to run connection", zap.Error(err))
		_ = ep.Close()
	}
}

// NewConnection creates a connection of the protocol on the endpoint, for
// factories continuing with another protocol
func (c *Connector) NewConnection(protocol string, ep *Endpoint) (Connection, error) {
	f := c.ConnectionFactory(protocol)
	if f == nil {
		return nil, fmt.Errorf("%w for protocol %q", ErrNoFactory, protocol)
	}
	conn, err := f.NewConnection(c, ep)
	if err != nil {
		return nil, err
	}
	ep.SetProtocol(f.Protocol())
	return conn, nil
}

// Info describes the connector
type Info struct {
	Name            string   `json:"name"`
	Address         string   `json:"address,omitempty"`
	State           string   `json:"state"`
	Protocols       []string `json:"protocols"`
	DefaultProtocol string   `json:"defaultProtocol"`
	Accepting       bool     `json:"accepting"`
	Acceptors       int      `json:"acceptors"`
	LiveAcceptors   int      `json:"liveAcceptors"`
	PriorityDelta   int      `json:"acceptorPriorityDelta"`
	IdleTimeout     string   `json:"idleTimeout"`
	Endpoints       int      `json:"endpoints"`
}

// Info returns the description of the connector
func (c *Connector) Info() Info {
	info := Info{
		Name:            c.Name(),
		State:           c.State().String(),
		Protocols:       c.Protocols(),
		DefaultProtocol: c.DefaultProtocol(),
		Accepting:       c.IsAccepting(),
		Acceptors:       c.config.Acceptors,
		LiveAcceptors:   len(c.AcceptorNames()),
		PriorityDelta:   c.config.AcceptorPriorityDelta,
		IdleTimeout:     c.config.IdleTimeout.String(),
		Endpoints:       len(c.ConnectedEndpoints()),
	}
	if addr := c.Addr(); addr != nil {
		info.Address = addr.String()
	}
	return info
}

func (c *Connector) String() string {
	return fmt.Sprintf("%s@%p{%s,%s}", c.label(), c, c.DefaultProtocol(), strings.Join(c.Protocols(), ","))
}
