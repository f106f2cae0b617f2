package harbor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/scheduler"
	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ErrDuplicateConnector is returned when adding a connector with the name of
// one already added
var ErrDuplicateConnector = errors.New("duplicate connector name")

// DefaultStopTimeout bounds Stop
const DefaultStopTimeout = 30 * time.Second

// Config configures a Server
type Config struct {
	// Name identifies the server in logs
	Name string

	// StopTimeout bounds stopping the connectors and waiting for their
	// connections. DefaultStopTimeout if 0, unbounded if negative.
	StopTimeout time.Duration
}

// Server is the root of a handler tree and the owner of connectors
type Server struct {
	*handler.Wrapper

	config    Config
	executor  *connector.GoExecutor
	scheduler *scheduler.Scheduler[*connector.Endpoint]
	pool      connector.BufferPool

	mu         sync.Mutex
	connectors []*connector.Connector
}

// NewServer creates a server without handlers and connectors
func NewServer(config Config) *Server {
	if config.StopTimeout == 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	s := &Server{
		Wrapper:   &handler.Wrapper{},
		config:    config,
		executor:  connector.NewGoExecutor(),
		scheduler: scheduler.New[*connector.Endpoint](),
		pool:      connector.NewBufferPool(),
	}
	s.Wrapper.SetServer(s)
	return s
}

// Name implements handler.Server
func (s *Server) Name() string {
	return s.config.Name
}

// Executor returns the executor shared by the connectors of the server
func (s *Server) Executor() connector.Executor {
	return s.executor
}

// Configure returns the connector configuration completed with the server
// as the root handler and with the shared executor, scheduler and buffer
// pool
func (s *Server) Configure(config connector.Config) connector.Config {
	config.Server = s
	if config.Executor == nil {
		config.Executor = s.executor
	}
	if config.Scheduler == nil {
		config.Scheduler = s.scheduler
	}
	if config.BufferPool == nil {
		config.BufferPool = s.pool
	}
	return config
}

// AddConnector adds a connector configured by Configure. The connector is
// started if the server is running.
func (s *Server) AddConnector(ctx context.Context, c *connector.Connector) error {
	if c.Server() != s {
		return fmt.Errorf("connector %s belongs to another server", c.Name())
	}

	s.mu.Lock()
	for _, existing := range s.connectors {
		if existing == c {
			s.mu.Unlock()
			return nil
		}
		if existing.Name() == c.Name() {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateConnector, c.Name())
		}
	}
	s.connectors = append(s.connectors, c)
	s.mu.Unlock()

	if s.IsStarted() {
		return c.Start(ctx)
	}
	return nil
}

// RemoveConnector stops and removes the named connector. Returns the removed
// connector, nil if there is none.
func (s *Server) RemoveConnector(ctx context.Context, name string) (*connector.Connector, error) {
	s.mu.Lock()
	i := slices.IndexFunc(s.connectors, func(c *connector.Connector) bool { return c.Name() == name })
	if i < 0 {
		s.mu.Unlock()
		return nil, nil
	}
	c := s.connectors[i]
	s.connectors = slices.Delete(s.connectors, i, i+1)
	s.mu.Unlock()

	return c, c.Stop(ctx)
}

// Connectors returns the connectors in the order of addition
func (s *Server) Connectors() []*connector.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.connectors)
}

// Connector returns the connector by name, nil if there is none
func (s *Server) Connector(name string) *connector.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connectors {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Start starts the handler tree, then the connectors. If a connector fails
// to start, everything started is stopped again.
func (s *Server) Start(ctx context.Context) error {
	ctx = tlog.With(ctx, zap.String("server", s.Name()))
	if err := s.Wrapper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start handlers: %w", err)
	}

	connectors := s.Connectors()
	for i, c := range connectors {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = connectors[j].Stop(ctx)
			}
			_ = s.Wrapper.Stop(ctx)
			return fmt.Errorf("failed to start connector %s: %w", c.Name(), err)
		}
	}
	tlog.Get(ctx).Info("Server started", zap.Int("connectors", len(connectors)))
	return nil
}

// Stop stops accepting on all connectors, stops the connectors, waits for
// their connections and stops the handler tree
func (s *Server) Stop(ctx context.Context) error {
	ctx = tlog.With(ctx, zap.String("server", s.Name()))
	ctx, cancel := tcontext.WithOptionalTimeout(ctx, s.config.StopTimeout)
	defer cancel()

	connectors := s.Connectors()
	var accepting []*connector.Connector
	for _, c := range connectors {
		if c.IsAccepting() {
			accepting = append(accepting, c)
			c.SetAccepting(false)
		}
	}

	var err error
	for _, c := range connectors {
		err = multierr.Append(err, c.Stop(ctx))
	}
	if waitErr := s.executor.Wait(ctx); waitErr != nil {
		tlog.Get(ctx).Warn("Connections still running", zap.Error(waitErr))
	}
	err = multierr.Append(err, s.Wrapper.Stop(ctx))
	s.scheduler.Clear()

	// connectors paused by the caller stay paused
	for _, c := range accepting {
		c.SetAccepting(true)
	}
	tlog.Get(ctx).Info("Server stopped", zap.Error(err))
	return err
}

// Run starts the server and stops it when ctx is closed
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Stop(tcontext.Reopen(ctx)); err != nil {
		return err
	}
	return ctx.Err()
}

// Info describes the server
type Info struct {
	Name       string           `json:"name"`
	State      string           `json:"state"`
	Connectors []connector.Info `json:"connectors"`
}

// Info returns the description of the server
func (s *Server) Info() Info {
	info := Info{Name: s.Name(), State: s.State().String(), Connectors: []connector.Info{}}
	for _, c := range s.Connectors() {
		info.Connectors = append(info.Connectors, c.Info())
	}
	return info
}
