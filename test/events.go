package test

import (
	"time"

	"github.com/stretchr/testify/assert"
)

// EventTimeout bounds the wait for each expected event
var EventTimeout = 3 * time.Second

// AssertForefrontEvents asserts that the expected events arrive on ch in
// order. Events queued after them are ignored.
func AssertForefrontEvents[E any](t assert.TestingT, ch <-chan E, expected ...E) bool {
	for i, e := range expected {
		timer := time.NewTimer(EventTimeout)
		select {
		case val, ok := <-ch:
			timer.Stop()
			if !ok {
				return assert.Fail(t, "channel closed", "index: %d", i)
			}
			if !assert.Equal(t, e, val, "index: %d", i) {
				return false
			}
		case <-timer.C:
			return assert.Fail(t, "timeout waiting for event", "index: %d", i)
		}
	}
	return true
}

// AssertEvents is AssertForefrontEvents also asserting that nothing else is
// queued on ch
func AssertEvents[E any](t assert.TestingT, ch <-chan E, expected ...E) bool {
	if !AssertForefrontEvents(t, ch, expected...) {
		return false
	}
	select {
	case val, ok := <-ch:
		if ok {
			return assert.Fail(t, "unexpected event", "%#v", val)
		}
	default:
	}
	return true
}
