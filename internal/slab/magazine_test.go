package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagazine_PushPopLIFO(t *testing.T) {
	m := newMagazine(4)
	assert.True(t, m.empty())
	assert.False(t, m.full())

	m.push(10)
	m.push(20)
	m.push(30)
	assert.False(t, m.full())

	assert.Equal(t, uintptr(30), m.pop())
	assert.Equal(t, uintptr(20), m.pop())

	m.push(40)
	m.push(50)
	assert.True(t, m.full())
}

func TestMagazinePool_GetReset(t *testing.T) {
	pool := newMagazinePool(4)

	m1 := pool.get()
	m1.push(1)
	m1.push(2)
	require.False(t, m1.empty())

	pool.put(m1)

	m2 := pool.get()
	assert.True(t, m2.empty(), "a reused magazine must come back reset to busy=0")
	assert.Equal(t, 4, m2.size)
}
