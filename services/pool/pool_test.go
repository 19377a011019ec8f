package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGenericPool(t *testing.T) {
	pool := NewGenericPool(func() *[]byte {
		b := make([]byte, 8)
		return &b
	})

	assert.NotNil(t, pool)
	assert.NotNil(t, pool.pool)
	assert.NotNil(t, pool.new)
}

func TestGenericPool_GetPutCycle(t *testing.T) {
	pool := NewGenericPool(func() int {
		return 42
	})

	val1 := pool.Get()
	assert.Equal(t, 42, val1)

	pool.Put(val1)

	val2 := pool.Get()
	assert.Equal(t, 42, val2)
}

func TestGetGlobalPool(t *testing.T) {
	pool := GetGlobalPool()

	assert.NotNil(t, pool)
	assert.Equal(t, globalPool, pool)
}

func TestBufferPool_GetReadBuffer(t *testing.T) {
	pool := NewBufferPool()

	buf, release := pool.GetReadBuffer()
	assert.Len(t, buf, ReadBufferSize)
	buf[0] = 0xff
	release()

	buf2, release2 := pool.GetReadBuffer()
	defer release2()
	assert.Len(t, buf2, ReadBufferSize)
}
