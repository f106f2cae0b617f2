package connector

import "go.uber.org/zap/buffer"

// BufferPool provides reusable byte buffers. Buffers are returned to the
// pool with Free.
type BufferPool interface {
	Get() *buffer.Buffer
}

var defaultBufferPool BufferPool = buffer.NewPool()

// NewBufferPool creates a BufferPool
func NewBufferPool() BufferPool {
	return buffer.NewPool()
}
