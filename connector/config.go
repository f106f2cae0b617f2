package connector

import (
	"runtime"
	"time"

	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/retry"
	"github.com/ridge/harbor/scheduler"
)

// Defaults
const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// DefaultAcceptBackoff is the delay between failed accepts
var DefaultAcceptBackoff = retry.FixedConfig{RetryAfter: time.Second}

// Config configures a Connector
type Config struct {
	// Name identifies the connector in logs and in "@name" virtual hosts
	Name string

	// Server is the root handler requests received by the connector are
	// passed to
	Server handler.Handler

	// Executor runs acceptors and connections. A new GoExecutor by default.
	Executor Executor

	// Scheduler keeps idle timeouts of endpoints. May be shared by several
	// connectors. A new one by default.
	Scheduler *scheduler.Scheduler[*Endpoint]

	// BufferPool provides buffers to connections. Shared zap buffer pool by
	// default.
	BufferPool BufferPool

	// Acceptors is the number of acceptor goroutines, DefaultAcceptors() if 0
	Acceptors int

	// AcceptorPriorityDelta raises (positive) or lowers (negative) the OS
	// scheduling priority of acceptor threads. 0 leaves it alone.
	AcceptorPriorityDelta int

	// IdleTimeout closes endpoints without traffic for this long.
	// DefaultIdleTimeout if 0, disabled if negative.
	IdleTimeout time.Duration

	// StopTimeout bounds the wait for acceptors to exit on stop.
	// DefaultStopTimeout if 0, no wait if negative.
	StopTimeout time.Duration

	// AcceptBackoff defines delays after failed accepts.
	// DefaultAcceptBackoff if nil.
	AcceptBackoff retry.Config

	// Factories are added in order. The first one becomes the default
	// unless DefaultProtocol is set.
	Factories []ConnectionFactory

	// DefaultProtocol overrides the default protocol
	DefaultProtocol string
}

// DefaultAcceptors returns the default number of acceptors for the number of
// CPUs: one per eight CPUs, at least one and at most four
func DefaultAcceptors() int {
	return max(1, min(4, runtime.NumCPU()/8))
}

func (c Config) withDefaults() Config {
	if c.Executor == nil {
		c.Executor = NewGoExecutor()
	}
	if c.Scheduler == nil {
		c.Scheduler = scheduler.New[*Endpoint]()
	}
	if c.BufferPool == nil {
		c.BufferPool = defaultBufferPool
	}
	if c.Acceptors <= 0 {
		c.Acceptors = DefaultAcceptors()
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.AcceptBackoff == nil {
		c.AcceptBackoff = DefaultAcceptBackoff
	}
	return c
}
