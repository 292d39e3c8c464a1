// Package slab implements the cache, slab, and per-CPU magazine layers
// of the SLAB allocator: object caching with per-CPU magazines backed
// by slabs of objects carved out of whole pages, in the style of the
// Bonwick/Adams slab allocator.
package slab

import (
	"sync"
	"sync/atomic"

	"github.com/slabkernel/kmem/internal/frame"
	"github.com/slabkernel/kmem/internal/logging"
)

// slabDescriptorOverhead approximates the size, in bytes, of the slab
// bookkeeping a kernel allocator would place at the tail of an "inside"
// slab. The Go Slab struct actually lives on the Go heap regardless of
// placement choice; this constant only drives the waste/placement
// arithmetic so cache sizing decisions match a real inside/outside
// allocator's tradeoffs.
const slabDescriptorOverhead = 64

// Config tunes cache creation and sizing, generalizing the traditional
// SLAB_MAX_BADNESS macro into a configurable field.
type Config struct {
	PageSize       uint32
	NumCPU         int
	MagazineSize   int
	SLABMaxBadness float64
}

// DefaultConfig returns the HelenOS defaults: a 4K page, the source's
// 1/8 badness threshold, and a magazine size chosen to give a useful
// amount of per-CPU hysteresis.
func DefaultConfig() Config {
	return Config{
		PageSize:       frame.PageSize,
		NumCPU:         4,
		MagazineSize:   16,
		SLABMaxBadness: 0.125,
	}
}

// Ctor/Dtor run over a newly carved or about-to-be-released slab's raw
// bytes, object by object, at slab-creation/destruction time. They run
// once per slab, not once per allocation.
type Ctor func(obj []byte)
type Dtor func(obj []byte)

type cpuSlot struct {
	mu      sync.Mutex
	current *Magazine
	last    *Magazine
}

// Cache is a named factory for fixed-size objects, owning its slabs and
// per-CPU magazines.
type Cache struct {
	name    string
	objSize uint32
	align   uint32
	order   uint
	objsPer int
	inside  bool

	noMagazine bool

	ctor Ctor
	dtor Dtor

	mu      sync.Mutex
	partial *Slab
	full    *Slab
	mags    *Magazine // head of shared full-magazine list

	cpus []cpuSlot

	allocatedSlabs int64
	cachedObjs     int64
	allocatedObjs  int64

	frames  frame.Allocator
	magPool *magazinePool
	descs   *descriptorPool[Slab]

	logger  *logging.Logger
	panicFn PanicFunc
	cfg     Config

	// RegPrev/RegNext are not set by this package or by the registry
	// package, which keeps its caches in a slice.
	RegPrev, RegNext *Cache
}

// New creates a cache for fixed-size objects. ctor/dtor may be nil.
// noMagazine must be true for allocator-internal control-structure
// caches, to avoid a cache recursing into itself while allocating the
// very descriptors it needs to manage its own slabs.
func New(name string, size, align uint32, ctor Ctor, dtor Dtor, noMagazine bool,
	frames frame.Allocator, magPool *magazinePool, descs *descriptorPool[Slab],
	cfg Config, logger *logging.Logger, panicFn PanicFunc) *Cache {

	size = roundSize(size, align)
	order, objsPer, inside := sizeClass(size, cfg)

	c := &Cache{
		name:       name,
		objSize:    size,
		align:      align,
		order:      order,
		objsPer:    objsPer,
		inside:     inside,
		noMagazine: noMagazine,
		ctor:       ctor,
		dtor:       dtor,
		cpus:       make([]cpuSlot, cfg.NumCPU),
		frames:     frames,
		magPool:    magPool,
		descs:      descs,
		cfg:        cfg,
		panicFn:    panicFn,
	}
	if logger != nil {
		c.logger = logger.With(logging.String("cache", name))
	}
	return c
}

func roundSize(size, align uint32) uint32 {
	const wordSize = 8
	if size < wordSize {
		size = wordSize
	}
	if align > 1 {
		size = (size + align - 1) &^ (align - 1)
	}
	return size
}

// sizeClass picks the smallest slab order whose leftover waste clears
// the badness threshold, then decides whether the slab descriptor can
// be placed inside the slab's own leftover space or must live outside.
func sizeClass(size uint32, cfg Config) (order uint, objsPer int, inside bool) {
	pageSize := uint64(cfg.PageSize)
	for (uint64(1)<<order)*pageSize < uint64(size) {
		order++
	}

	for {
		slabBytes := (uint64(1) << order) * pageSize
		objs := slabBytes / uint64(size)
		if objs == 0 {
			order++
			continue
		}
		waste := slabBytes - objs*uint64(size)
		threshold := cfg.SLABMaxBadness * float64(slabBytes)
		if float64(waste) <= threshold {
			objsPer = int(objs)
			inside = waste >= slabDescriptorOverhead
			return order, objsPer, inside
		}
		order++
	}
}

// Name, ObjSize, Order, ObjsPerSlab, Inside, NoMagazine expose cache
// metadata for the observability dump.
func (c *Cache) Name() string     { return c.name }
func (c *Cache) ObjSize() uint32  { return c.objSize }
func (c *Cache) Order() uint      { return c.order }
func (c *Cache) ObjsPerSlab() int { return c.objsPer }
func (c *Cache) Inside() bool     { return c.inside }
func (c *Cache) NoMagazine() bool { return c.noMagazine }

func (c *Cache) AllocatedSlabs() int64 { return atomic.LoadInt64(&c.allocatedSlabs) }
func (c *Cache) CachedObjects() int64  { return atomic.LoadInt64(&c.cachedObjs) }
func (c *Cache) AllocatedObjects() int64 {
	return atomic.LoadInt64(&c.allocatedObjs)
}

// Alloc allocates one object for the given logical CPU. cpu identifies
// the calling CPU; the CPU count is fixed at cache creation and cpu
// must be in [0, NumCPU).
func (c *Cache) Alloc(cpu int, flags AllocFlags) (uintptr, bool) {
	if !c.noMagazine && cpu >= 0 && cpu < len(c.cpus) {
		if addr, ok := c.magazinePop(cpu); ok {
			atomic.AddInt64(&c.allocatedObjs, 1)
			return addr, true
		}
	}

	c.mu.Lock()
	addr, ok := c.slabObjCreate(flags)
	c.mu.Unlock()

	if !ok {
		return 0, false
	}
	atomic.AddInt64(&c.allocatedObjs, 1)
	return addr, true
}

// Free releases one object for the given logical CPU.
func (c *Cache) Free(cpu int, addr uintptr) {
	if !c.noMagazine && cpu >= 0 && cpu < len(c.cpus) {
		if c.magazinePush(cpu, addr) {
			atomic.AddInt64(&c.allocatedObjs, -1)
			return
		}
	}

	c.mu.Lock()
	c.slabObjDestroy(addr)
	c.mu.Unlock()
	atomic.AddInt64(&c.allocatedObjs, -1)
}

// slabObjCreate takes one object from the partial-slab list, allocating
// a fresh slab first if none is partially full. The cache lock is held
// by the caller and dropped around slab allocation, since that may
// recurse into the outside descriptor pool.
func (c *Cache) slabObjCreate(flags AllocFlags) (uintptr, bool) {
	if c.partial == nil {
		c.mu.Unlock()
		s, ok := c.allocSlab(flags)
		c.mu.Lock()
		if !ok {
			return 0, false
		}
		c.linkPartial(s)
	}

	s := c.partial
	addr, ok := s.take()
	if !ok {
		// Should not happen: a partial slab always has room.
		return 0, false
	}

	if s.full() {
		c.unlinkPartial(s)
		c.linkFull(s)
	}
	return addr, true
}

// slabObjDestroy returns one object to its owning slab's free list and
// relinks the slab if its occupancy crossed a list boundary. Called
// with the cache lock held; returns the number of frames released,
// which is always 0 or 2^order.
func (c *Cache) slabObjDestroy(addr uintptr) uint64 {
	s := c.findSlab(addr)
	assertf(c.panicFn, s != nil, "slab: free of address %#x owned by no slab in cache %q", addr, c.name)
	if s == nil {
		return 0
	}
	assertf(c.panicFn, s.cache == c, "slab: free of address %#x to wrong cache %q (owned by %q)", addr, c.name, s.cache.name)

	wasFull := s.full()
	ok := s.give(addr)
	assertf(c.panicFn, ok, "slab: double free or invalid address %#x in cache %q", addr, c.name)

	// Check emptiness first: with objsPer == 1 the "available was 0,
	// now 1" full->partial transition and the "available == objsPer"
	// fully-free transition are the same event, and the slab must be
	// released rather than relinked to partial.
	if s.empty() {
		if wasFull {
			c.unlinkFull(s)
		} else {
			c.unlinkPartial(s)
		}
		c.mu.Unlock()
		freed := c.freeSlab(s)
		c.mu.Lock()
		return freed
	}

	if wasFull {
		c.unlinkFull(s)
		c.linkPartial(s)
	}
	return 0
}

// findSlab resolves an address to its owning slab in O(1): round to
// the page, read the frame descriptor, follow the back-pointer.
func (c *Cache) findSlab(addr uintptr) *Slab {
	page := addr - addr%uintptr(c.cfg.PageSize)
	d := c.frames.Lookup(page)
	if d == nil || d.Owner == nil {
		return nil
	}
	s, _ := d.Owner.(*Slab)
	return s
}

// CacheOf resolves any address this package handed out back to its
// owning cache, using the same frame back-pointer findSlab relies on.
// This is the lookup step the kalloc front-end's kfree needs, since
// kfree receives no cache argument.
func CacheOf(frames frame.Allocator, pageSize uint32, addr uintptr) *Cache {
	page := addr - addr%uintptr(pageSize)
	d := frames.Lookup(page)
	if d == nil || d.Owner == nil {
		return nil
	}
	s, _ := d.Owner.(*Slab)
	if s == nil {
		return nil
	}
	return s.cache
}

func (c *Cache) linkPartial(s *Slab) {
	s.state = statePartial
	s.prevL, s.nextL = nil, c.partial
	if c.partial != nil {
		c.partial.prevL = s
	}
	c.partial = s
}

func (c *Cache) unlinkPartial(s *Slab) {
	c.unlink(s, &c.partial)
}

func (c *Cache) linkFull(s *Slab) {
	s.state = stateFull
	s.prevL, s.nextL = nil, c.full
	if c.full != nil {
		c.full.prevL = s
	}
	c.full = s
}

func (c *Cache) unlinkFull(s *Slab) {
	c.unlink(s, &c.full)
}

func (c *Cache) unlink(s *Slab, head **Slab) {
	if s.prevL != nil {
		s.prevL.nextL = s.nextL
	} else {
		*head = s.nextL
	}
	if s.nextL != nil {
		s.nextL.prevL = s.prevL
	}
	s.prevL, s.nextL = nil, nil
	s.state = stateDetached
}

// allocSlab carves a new slab out of freshly allocated frames. The
// cache lock must NOT be held by the caller: this may recurse into the
// outside descriptor pool.
func (c *Cache) allocSlab(flags AllocFlags) (*Slab, bool) {
	var ff frame.Flags
	if flags&FlagAtomic != 0 {
		ff |= frame.FlagAtomic
	}
	if flags&FlagNoReclaim != 0 {
		ff |= frame.FlagNoReclaim
	}

	region, status := c.frames.Alloc(c.order, ff)
	if status != frame.StatusOK {
		if c.logger != nil {
			c.logger.Warn("slab allocation failed", logging.Int("status", int(status)))
		}
		return nil, false
	}

	outside := !c.inside
	var s *Slab
	if outside {
		s = c.descs.Get()
		*s = *newSlab(c, region, c.objSize, c.objsPer, true)
	} else {
		s = newSlab(c, region, c.objSize, c.objsPer, false)
	}

	c.frames.SetOwner(region, s)

	if c.ctor != nil {
		for i := 0; i < c.objsPer; i++ {
			c.ctor(c.frames.Bytes(s.addrOf(i), int(c.objSize)))
		}
	}

	atomic.AddInt64(&c.allocatedSlabs, 1)
	if c.logger != nil {
		c.logger.Debug("slab created", logging.Int("objs_per_slab", c.objsPer), logging.Bool("outside", outside))
	}
	return s, true
}

// freeSlab releases a slab's frames back to the frame allocator.
// Returns the number of frames released (always 2^order here, since a
// slab is only ever freed once fully empty).
func (c *Cache) freeSlab(s *Slab) uint64 {
	if c.dtor != nil {
		for i := 0; i < s.count; i++ {
			c.dtor(c.frames.Bytes(s.addrOf(i), int(s.objSize)))
		}
	}

	c.frames.Free(s.region.Addr)
	if s.outside {
		c.descs.Put(s)
	}

	atomic.AddInt64(&c.allocatedSlabs, -1)
	if c.logger != nil {
		c.logger.Debug("slab freed", logging.Int("frames", s.region.Count))
	}
	return uint64(s.region.Count)
}

// Destroy tears the cache down: it reclaims aggressively, then fatally
// asserts no slabs remain.
func (c *Cache) Destroy() {
	c.Reclaim(ReclaimAggressive)

	c.mu.Lock()
	slabs := atomic.LoadInt64(&c.allocatedSlabs)
	outstanding := atomic.LoadInt64(&c.allocatedObjs)
	c.mu.Unlock()

	assertf(c.panicFn, slabs == 0 && outstanding == 0,
		"slab: cache_destroy on non-empty cache %q (slabs=%d outstanding=%d)",
		c.name, slabs, outstanding)
}
