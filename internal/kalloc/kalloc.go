// Package kalloc implements a size-class kalloc/kfree front-end: on
// boot, one ordinary cache per power of two from 2^MIN to 2^MAX backs a
// variable-size alloc/free pair built entirely out of the fixed-size
// cache machinery.
package kalloc

import (
	"fmt"
	"math/bits"

	"github.com/slabkernel/kmem/internal/registry"
	"github.com/slabkernel/kmem/internal/slab"
)

// minOrder/maxOrder bound the size classes at 2^3=8 bytes and
// 2^17=128K bytes.
const (
	minOrder = 3
	maxOrder = 17
)

// Allocator is the process-wide kalloc/kfree front-end. It owns no
// state of its own beyond the size-class cache array: every class is
// an ordinary registry.Registry cache and therefore benefits from
// per-CPU magazines like any other cache.
type Allocator struct {
	reg     *registry.Registry
	classes [maxOrder - minOrder + 1]*slab.Cache
}

// New creates the size-class caches and registers them, across the
// full 2^MIN..2^MAX range. None need constructors/destructors and none
// are no_magazine: only the bootstrap pools themselves (the magazine
// pool and the outside-descriptor pool, both owned by reg) must break
// the reentrancy cycle.
func New(reg *registry.Registry) *Allocator {
	a := &Allocator{reg: reg}
	for order := minOrder; order <= maxOrder; order++ {
		size := uint32(1) << uint(order)
		name := fmt.Sprintf("kalloc-%d", size)
		a.classes[order-minOrder] = reg.NewCache(name, size, 8, nil, nil, false)
	}
	return a
}

// classIndex rounds size up to a power of two and indexes the cache
// array by ceil(log2(size)) - minOrder.
func classIndex(size uint32) (int, bool) {
	if size <= 1 {
		return 0, true
	}
	order := bits.Len32(size - 1)
	if order < minOrder {
		order = minOrder
	}
	if order > maxOrder {
		return 0, false
	}
	return order - minOrder, true
}

// Kalloc rounds size up to a power of two and delegates to that size
// class's Alloc. cpu identifies the calling logical CPU.
func (a *Allocator) Kalloc(cpu int, size uint32, flags slab.AllocFlags) (uintptr, error) {
	idx, ok := classIndex(size)
	if !ok {
		return 0, slab.ErrTooLarge
	}
	addr, ok := a.classes[idx].Alloc(cpu, flags)
	if !ok {
		return 0, slab.ErrOutOfMemory
	}
	return addr, nil
}

// Kfree locates the owning cache via the frame back-pointer reverse
// mapping, since kfree receives no cache argument, and delegates to
// that cache's Free.
func (a *Allocator) Kfree(cpu int, addr uintptr) error {
	c := slab.CacheOf(a.reg.Frames(), a.reg.PageSize(), addr)
	if c == nil {
		return slab.ErrUnknownAddress
	}
	c.Free(cpu, addr)
	return nil
}
