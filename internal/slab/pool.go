package slab

import "sync"

// descriptorPool is a free-list pool of allocator-internal control
// structures (Magazine, and Slab descriptors picked for outside
// placement). A traditional C slab allocator self-hosts these by
// carving them out of its own byte-addressed SLAB mechanism; Go's type
// system and garbage collector make that literal trick infeasible for
// typed structs without unsafe casts. A descriptorPool preserves the
// properties that matter instead: it never blocks, it never invokes
// reclaim, and pool exhaustion grows the pool by ordinary allocation
// rather than recursing back into the object-cache machinery, the same
// ATOMIC|NO_RECLAIM discipline the magazine cache and the descriptor
// caches need.
type descriptorPool[T any] struct {
	mu        sync.Mutex
	free      []*T
	allocated int64
	reused    int64
}

func newDescriptorPool[T any]() *descriptorPool[T] {
	return &descriptorPool[T]{}
}

// SlabDescriptorPool is an exported alias so other packages (the
// registry) can hold and pass around a reference to the process-wide
// outside-slab-descriptor pool without reaching into unexported
// internals.
type SlabDescriptorPool = descriptorPool[Slab]

// NewSlabDescriptorPool creates the pool the registry hands to every
// cache created with outside placement, so outside Slab descriptors for
// every cache in the process share one free list.
func NewSlabDescriptorPool() *SlabDescriptorPool {
	return newDescriptorPool[Slab]()
}

// Get returns a zero-valued *T, reusing a freed one if available.
func (p *descriptorPool[T]) Get() *T {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free = p.free[:n-1]
		p.reused++
		p.mu.Unlock()
		*v = *new(T)
		return v
	}
	p.allocated++
	p.mu.Unlock()
	return new(T)
}

// Put returns a descriptor to the pool for reuse.
func (p *descriptorPool[T]) Put(v *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, v)
}

// Stats reports live vs pooled counts for observability.
func (p *descriptorPool[T]) Stats() (allocated, reused, parked int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated, p.reused, int64(len(p.free))
}
