package slab

import "github.com/slabkernel/kmem/internal/frame"

// slabState records which of the cache's lists (if any) a slab is
// linked into: the parent's partial list, the parent's full list, or
// detached (not yet linked, or mid-transition with the lock dropped).
type slabState int

const (
	stateDetached slabState = iota
	statePartial
	stateFull
)

// Slab is the metadata for one contiguous frame-aligned region holding
// count fixed-size objects plus an embedded free list. A traditional C
// slab allocator threads the free-list index directly through each free
// object's own raw memory (`*(int*)obj = next_free_index`); this keeps
// a side array of next-indices instead, because the bytes a Cache hands
// out are addressed by offset, not by a typed Go value whose memory we
// could legally reinterpret.
type Slab struct {
	cache   *Cache
	region  *frame.Region
	start   uintptr
	objSize uint32
	count   int

	free      []int // next-index per slot; count is the "nil" sentinel
	taken     []bool
	available int
	nextFree  int

	state       slabState
	prevL, nextL *Slab

	outside bool
}

func newSlab(c *Cache, region *frame.Region, objSize uint32, count int, outside bool) *Slab {
	s := &Slab{
		cache:   c,
		region:  region,
		start:   region.Addr,
		objSize: objSize,
		count:   count,
		free:    make([]int, count),
		taken:   make([]bool, count),
		outside: outside,
	}
	for i := 0; i < count; i++ {
		s.free[i] = i + 1
	}
	s.available = count
	s.nextFree = 0
	s.state = stateDetached
	return s
}

// addrOf returns the address of object index i.
func (s *Slab) addrOf(i int) uintptr {
	return s.start + uintptr(i)*uintptr(s.objSize)
}

// indexOf returns the object index for addr, or -1 if addr does not
// fall on an object boundary within this slab.
func (s *Slab) indexOf(addr uintptr) int {
	if addr < s.start {
		return -1
	}
	rel := addr - s.start
	if rel%uintptr(s.objSize) != 0 {
		return -1
	}
	idx := int(rel / uintptr(s.objSize))
	if idx < 0 || idx >= s.count {
		return -1
	}
	return idx
}

// take pops the head of the embedded free list. Called with the cache
// lock held.
func (s *Slab) take() (uintptr, bool) {
	if s.available == 0 {
		return 0, false
	}
	idx := s.nextFree
	s.nextFree = s.free[idx]
	s.taken[idx] = true
	s.available--
	return s.addrOf(idx), true
}

// give pushes addr back onto the embedded free list. It reports
// whether addr was a valid, currently-allocated object of this slab.
func (s *Slab) give(addr uintptr) bool {
	idx := s.indexOf(addr)
	if idx < 0 || !s.taken[idx] {
		return false
	}
	s.taken[idx] = false
	s.free[idx] = s.nextFree
	s.nextFree = idx
	s.available++
	return true
}

func (s *Slab) full() bool  { return s.available == 0 }
func (s *Slab) empty() bool { return s.available == s.count }
