package test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	failures int
}

func (r *recorder) Errorf(string, ...any) {
	r.failures++
}

func queued(events ...string) <-chan string {
	ch := make(chan string, len(events))
	for _, e := range events {
		ch <- e
	}
	return ch
}

func TestEventsOK(t *testing.T) {
	r := &recorder{}
	assert.True(t, AssertEvents(r, queued("a", "b"), "a", "b"))
	assert.True(t, AssertEvents(r, queued()))
	assert.Zero(t, r.failures)
}

func TestEventsMismatch(t *testing.T) {
	r := &recorder{}
	assert.False(t, AssertEvents(r, queued("a"), "b"))
	assert.Equal(t, 1, r.failures)
}

func TestEventsUnexpected(t *testing.T) {
	r := &recorder{}
	assert.True(t, AssertForefrontEvents(r, queued("a", "b"), "a"))
	assert.False(t, AssertEvents(r, queued("a", "b"), "a"))
	assert.Equal(t, 1, r.failures)
}

func TestEventsClosed(t *testing.T) {
	ch := make(chan string)
	close(ch)

	r := &recorder{}
	assert.True(t, AssertEvents(r, (<-chan string)(ch)))
	assert.False(t, AssertEvents(r, (<-chan string)(ch), "a"))
	assert.Equal(t, 1, r.failures)
}

func TestEventsTimeout(t *testing.T) {
	saved := EventTimeout
	EventTimeout = 10 * time.Millisecond
	defer func() { EventTimeout = saved }()

	r := &recorder{}
	assert.False(t, AssertEvents(r, make(<-chan string), "a"))
	assert.Equal(t, 1, r.failures)
}
