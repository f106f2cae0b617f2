package scheduler

import (
	"sync"
	"time"
)

// A Scheduler keeps track of many upcoming alarms associated with keys, at
// most one per key.
//
// A Scheduler is safe for concurrent use and is normally shared by all the
// connectors of a server.
type Scheduler[K comparable] struct {
	alarms map[K]*time.Timer
	fired  map[K]bool
	ch     chan struct{}
	mu     sync.Mutex
}

// New creates a new Scheduler
func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{
		alarms: map[K]*time.Timer{},
		ch:     make(chan struct{}, 1),
	}
}

// Schedule adds, modifies or removes the alarm for a given key.
// Set when to zero time to remove.
func (s *Scheduler[K]) Schedule(key K, when time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := s.alarms[key]
	if timer != nil {
		timer.Stop()
	}

	if when.IsZero() {
		if timer != nil {
			delete(s.alarms, key)
		}
		delete(s.fired, key)
		return
	}

	d := time.Until(when)
	if timer != nil {
		timer.Reset(d)
	} else {
		s.alarms[key] = time.AfterFunc(d, func() {
			s.alarm(key)
		})
	}
}

func (s *Scheduler[K]) alarm(key K) {
	s.mu.Lock()
	if s.fired == nil {
		s.fired = map[K]bool{}
	}
	s.fired[key] = true
	delete(s.alarms, key)
	s.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait returns the channel where alarms are announced
func (s *Scheduler[K]) Wait() <-chan struct{} {
	return s.ch
}

// Get returns the list of keys for which the alarm has fired
func (s *Scheduler[K]) Get() []K {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fired == nil {
		return nil
	}

	res := make([]K, 0, len(s.fired))
	for key := range s.fired {
		res = append(res, key)
	}
	s.fired = nil

	return res
}

// Pending returns the number of alarms that have not fired yet
func (s *Scheduler[K]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.alarms)
}

// Clear removes all alarms
func (s *Scheduler[K]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, timer := range s.alarms {
		timer.Stop()
	}
	s.alarms = map[K]*time.Timer{}
	s.fired = nil
}
