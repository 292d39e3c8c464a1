package kalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slabkernel/kmem/internal/registry"
	"github.com/slabkernel/kmem/internal/slab"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	cfg := registry.DefaultConfig()
	cfg.ArenaPages = 16384
	reg := registry.New(cfg, nil, nil)
	return New(reg)
}

func TestClassIndex(t *testing.T) {
	cases := []struct {
		size  uint32
		index int
		ok    bool
	}{
		{1, 0, true},
		{8, 0, true},
		{9, 1, true},
		{16, 1, true},
		{17, 2, true},
		{1 << 17, maxOrder - minOrder, true},
		{1<<17 + 1, 0, false},
	}
	for _, c := range cases {
		idx, ok := classIndex(c.size)
		assert.Equal(t, c.ok, ok, "size %d", c.size)
		if ok {
			assert.Equal(t, c.index, idx, "size %d", c.size)
		}
	}
}

func TestKalloc_RoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	addr, err := a.Kalloc(0, 100, 0)
	require.NoError(t, err)

	require.NoError(t, a.Kfree(0, addr))
}

func TestKalloc_TooLarge(t *testing.T) {
	a := newTestAllocator(t)

	_, err := a.Kalloc(0, 1<<20, 0)
	assert.Error(t, err)
}

func TestKalloc_DifferentSizesUseDifferentClasses(t *testing.T) {
	a := newTestAllocator(t)

	small, err := a.Kalloc(0, 8, 0)
	require.NoError(t, err)
	large, err := a.Kalloc(0, 4096, 0)
	require.NoError(t, err)

	// 8 bytes is class 2^3 (index 0); 4096 bytes is class 2^12 (index 9).
	assert.Same(t, a.classes[0], slab.CacheOf(a.reg.Frames(), a.reg.PageSize(), small))
	assert.Same(t, a.classes[9], slab.CacheOf(a.reg.Frames(), a.reg.PageSize(), large))

	require.NoError(t, a.Kfree(0, small))
	require.NoError(t, a.Kfree(0, large))
}

func TestKalloc_FreeUnknownAddress(t *testing.T) {
	a := newTestAllocator(t)

	err := a.Kfree(0, 0xdeadbeef)
	assert.Error(t, err)
}
