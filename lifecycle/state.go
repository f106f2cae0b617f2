// Package lifecycle implements the start/stop state machine shared by
// connectors, connection factories and handlers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a component
type State int32

// State values
const (
	Unconfigured State = iota
	Starting
	Started
	Stopping
	Stopped
	Failed
)

var stateNames = [...]string{
	Unconfigured: "unconfigured",
	Starting:     "starting",
	Started:      "started",
	Stopping:     "stopping",
	Stopped:      "stopped",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", s)
	}
	return stateNames[s]
}

// ErrState is returned when a transition is not allowed from the current state
var ErrState = errors.New("invalid lifecycle state")

// Component is anything that can be started and stopped
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
}

// Machine is the state machine embedded into components.
//
// Transitions are serialized, the state itself can be read at any time
// without blocking.
type Machine struct {
	mu    sync.Mutex
	state atomic.Int32
}

// State returns the current state
func (m *Machine) State() State {
	return State(m.state.Load())
}

// IsRunning returns true while the component is starting or started
func (m *Machine) IsRunning() bool {
	s := m.State()
	return s == Starting || s == Started
}

// IsStarted returns true once the component has started successfully
func (m *Machine) IsStarted() bool {
	return m.State() == Started
}

// IsStopped returns true if the component is not running and not in transition
func (m *Machine) IsStopped() bool {
	switch m.State() {
	case Unconfigured, Stopped, Failed:
		return true
	default:
		return false
	}
}

// Start moves the machine to Starting, runs doStart and ends in Started on
// success or Failed otherwise. Starting a started machine does nothing.
//
// doStart must not call Start or Stop on the same machine.
func (m *Machine) Start(ctx context.Context, doStart func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s := m.State(); s {
	case Started:
		return nil
	case Unconfigured, Stopped, Failed:
	default:
		return fmt.Errorf("%w: cannot start while %s", ErrState, s)
	}

	m.set(Starting)
	if doStart != nil {
		if err := doStart(ctx); err != nil {
			m.set(Failed)
			return err
		}
	}
	m.set(Started)
	return nil
}

// Stop moves a started or failed machine through Stopping to Stopped and
// returns the error of doStop, if any. The machine reaches Stopped even if
// doStop fails. Stopping a machine that never started does nothing.
func (m *Machine) Stop(ctx context.Context, doStop func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Unconfigured, Stopped:
		return nil
	}

	m.set(Stopping)
	var err error
	if doStop != nil {
		err = doStop(ctx)
	}
	m.set(Stopped)
	return err
}

func (m *Machine) set(s State) {
	m.state.Store(int32(s))
}
