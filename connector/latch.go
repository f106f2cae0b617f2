package connector

import (
	"context"
	"sync"
	"time"
)

// latch is a countdown gate
type latch struct {
	mu   sync.Mutex
	n    int
	done chan struct{}
}

func newLatch(n int) *latch {
	l := &latch{n: n, done: make(chan struct{})}
	if n <= 0 {
		close(l.done)
	}
	return l
}

func (l *latch) countDown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.n > 0 {
		l.n--
		if l.n == 0 {
			close(l.done)
		}
	}
}

// await waits for the count to reach zero, returns false on timeout or
// context closure
func (l *latch) await(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
