package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ridge/harbor/retry"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/harbor/tnet"
	"go.uber.org/zap"
)

const minAcceptDelay = 10 * time.Millisecond

type acceptor struct {
	connector *Connector
	slot      int
	stopping  *latch
	name      string
}

func newAcceptor(c *Connector, slot int, stopping *latch) *acceptor {
	a := &acceptor{connector: c, slot: slot, stopping: stopping}
	a.name = fmt.Sprintf("%s-acceptor-%d@%p", c.label(), slot, a)
	return a
}

func (a *acceptor) run(ctx context.Context) error {
	c := a.connector
	logger := tlog.Get(ctx).With(zap.String("acceptor", a.name))
	ctx = tlog.WithLogger(ctx, logger)

	c.mu.Lock()
	c.acceptors[a.slot] = a
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if a.slot < len(c.acceptors) && c.acceptors[a.slot] == a {
			c.acceptors[a.slot] = nil
		}
		c.mu.Unlock()
		a.stopping.countDown()
		logger.Debug("Acceptor stopped")
	}()

	restore, err := setPriority(c.config.AcceptorPriorityDelta)
	if err != nil {
		logger.Warn("Failed to change acceptor priority", zap.Int("delta", c.config.AcceptorPriorityDelta), zap.Error(err))
	} else {
		defer restore()
	}

	logger.Debug("Acceptor started")
	var delays retry.DelayFn
	var delay time.Duration
	for c.IsRunning() && ctx.Err() == nil {
		if !c.waitAccepting() {
			continue
		}

		conn, err := c.transport.Accept(ctx, a.slot)
		if err == nil {
			delays = nil
			c.serveEndpoint(ctx, conn, a.slot)
			continue
		}

		switch {
		case !c.IsRunning() || ctx.Err() != nil:
			return nil
		case tnet.IsShutdownError(err):
			logger.Debug("Transport closed", zap.Error(err))
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		}

		logger.Warn("Accept failed", zap.Error(err))
		if delays == nil {
			delays = c.config.AcceptBackoff.Delays()
			delays() // the delay before the first attempt
		}
		// once the backoff runs out keep retrying at the last delay
		if next, ok := delays(); ok {
			delay = next
		}
		if delay <= 0 {
			delay = minAcceptDelay
		}
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

// waitAccepting blocks while the connector is paused. Returns false if it
// blocked, so the caller rechecks the state.
func (c *Connector) waitAccepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepting && c.IsRunning() {
		c.cond.Wait()
		return false
	}
	return true
}
