package slab

import "sync/atomic"

// magazinePop allocates from this CPU's magazine pair, falling back to
// the shared full-magazine list. It returns false when neither has an
// object, leaving the caller to take the slab path.
func (c *Cache) magazinePop(cpu int) (uintptr, bool) {
	slot := &c.cpus[cpu]
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.current != nil && !slot.current.empty() {
		addr := slot.current.pop()
		atomic.AddInt64(&c.cachedObjs, -1)
		return addr, true
	}

	if slot.last != nil && !slot.last.empty() {
		slot.current, slot.last = slot.last, slot.current
		addr := slot.current.pop()
		atomic.AddInt64(&c.cachedObjs, -1)
		return addr, true
	}

	c.mu.Lock()
	found := c.mags
	if found != nil {
		c.mags = found.next
		found.next = nil
	}
	c.mu.Unlock()

	if found == nil {
		return 0, false
	}

	if slot.last != nil {
		c.magPool.put(slot.last)
	}
	slot.last = slot.current
	slot.current = found

	addr := slot.current.pop()
	atomic.AddInt64(&c.cachedObjs, -1)
	return addr, true
}

// magazinePush frees to this CPU's magazine pair, swapping the spare
// magazine in or pulling a fresh one from the pool as needed. It
// returns false if no magazine had room and a fresh one could not be
// obtained, forcing the caller to free directly to a slab.
func (c *Cache) magazinePush(cpu int, addr uintptr) bool {
	slot := &c.cpus[cpu]
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.current != nil && !slot.current.full() {
		slot.current.push(addr)
		atomic.AddInt64(&c.cachedObjs, 1)
		return true
	}

	if slot.last != nil && !slot.last.full() {
		slot.current, slot.last = slot.last, slot.current
		slot.current.push(addr)
		atomic.AddInt64(&c.cachedObjs, 1)
		return true
	}

	fresh := c.magPool.get()
	if fresh == nil {
		return false
	}

	if slot.last != nil {
		c.mu.Lock()
		slot.last.next = c.mags
		c.mags = slot.last
		c.mu.Unlock()
	}
	slot.last = slot.current
	slot.current = fresh
	slot.current.push(addr)
	atomic.AddInt64(&c.cachedObjs, 1)
	return true
}
