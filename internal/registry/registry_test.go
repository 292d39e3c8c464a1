package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slabkernel/kmem/internal/slab"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ArenaPages = 4096
	return New(cfg, nil, nil)
}

func TestRegistry_NewCacheRegistersAndDumps(t *testing.T) {
	r := newTestRegistry(t)

	c := r.NewCache("widgets", 64, 8, nil, nil, false)
	require.NotNil(t, c)
	assert.Same(t, c, r.Lookup("widgets"))

	dump := r.Dump()
	assert.Contains(t, dump, "widgets")
	assert.Contains(t, dump, "NAME")
}

func TestRegistry_DestroyUnlinks(t *testing.T) {
	r := newTestRegistry(t)
	c := r.NewCache("widgets", 64, 8, nil, nil, false)

	r.Destroy(c)
	assert.Nil(t, r.Lookup("widgets"))
	assert.NotContains(t, r.Dump(), "widgets")
}

func TestRegistry_ReclaimAllWalksEveryCache(t *testing.T) {
	r := newTestRegistry(t)
	a := r.NewCache("a", r.cfg.Cache.PageSize-32, 8, nil, nil, false) // objsPer == 1
	b := r.NewCache("b", r.cfg.Cache.PageSize-32, 8, nil, nil, false)

	addrA, ok := a.Alloc(0, 0)
	require.True(t, ok)
	addrB, ok := b.Alloc(0, 0)
	require.True(t, ok)

	a.Free(0, addrA)
	b.Free(0, addrB)
	require.EqualValues(t, 1, a.AllocatedSlabs())
	require.EqualValues(t, 1, b.AllocatedSlabs())

	freed := r.ReclaimAll(slab.ReclaimAggressive)
	assert.EqualValues(t, 2, freed)
	assert.EqualValues(t, 0, a.AllocatedSlabs())
	assert.EqualValues(t, 0, b.AllocatedSlabs())
}

func TestRegistry_BloomFilterSeenAfterCreate(t *testing.T) {
	r := newTestRegistry(t)

	r.NewCache("dup", 64, 8, nil, nil, false)
	r.filterMu.Lock()
	likely := r.nameFilter.Test([]byte("dup"))
	r.filterMu.Unlock()
	assert.True(t, likely, "the name must be present in the filter once registered")

	// Cache names are advisory, not enforced unique: creating a second
	// cache with the same name must still succeed.
	c2 := r.NewCache("dup", 64, 8, nil, nil, false)
	assert.NotNil(t, c2)
}
