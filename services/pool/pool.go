package pool

import (
	"sync"
)

// ReadBufferSize is the size of each pooled connection read buffer.
const ReadBufferSize = 32 * 1024

// GenericPool is a generic sync.Pool wrapper
type GenericPool[T any] struct {
	pool *sync.Pool
	new  func() T
}

// NewGenericPool creates a new generic pool with a factory function
func NewGenericPool[T any](factory func() T) *GenericPool[T] {
	return &GenericPool[T]{
		pool: &sync.Pool{
			New: func() interface{} {
				return factory()
			},
		},
		new: factory,
	}
}

// Get retrieves an object from the pool or creates a new one
func (p *GenericPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an object to the pool
func (p *GenericPool[T]) Put(obj T) {
	p.pool.Put(obj)
}

// BufferPool holds the read buffers shared by all connections.
type BufferPool struct {
	ReadBuffer *GenericPool[*[]byte]
}

func NewBufferPool() *BufferPool {
	return &BufferPool{
		ReadBuffer: NewGenericPool(func() *[]byte {
			b := make([]byte, ReadBufferSize)
			return &b
		}),
	}
}

// Global pool instance
var globalPool = NewBufferPool()

// GetGlobalPool returns the global buffer pool
func GetGlobalPool() *BufferPool {
	return globalPool
}

// GetReadBuffer hands out a read buffer together with the func that returns
// it to the pool. It matches protocol.WithReadBuffer.
func (p *BufferPool) GetReadBuffer() ([]byte, func()) {
	b := p.ReadBuffer.Get()
	return (*b)[:ReadBufferSize], func() {
		p.ReadBuffer.Put(b)
	}
}
