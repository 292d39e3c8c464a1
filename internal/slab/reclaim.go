package slab

import "sync/atomic"

// Reclaim drains cached memory back to the frame allocator. With
// ReclaimAggressive it first drains every per-CPU magazine pair
// (ascending CPU id, matching the cache's own lock ordering), then
// walks the shared full-magazine list; with ReclaimLight it only walks
// the shared list and stops as soon as at least one frame has been
// released, a known-incomplete heuristic kept as-is.
func (c *Cache) Reclaim(mode ReclaimMode) uint64 {
	if c.noMagazine {
		return 0
	}

	var freed uint64

	if mode == ReclaimAggressive {
		for i := range c.cpus {
			slot := &c.cpus[i]
			slot.mu.Lock()
			cur, last := slot.current, slot.last
			slot.current, slot.last = nil, nil
			slot.mu.Unlock()

			if cur != nil {
				freed += c.drainMagazine(cur)
				c.magPool.put(cur)
			}
			if last != nil {
				freed += c.drainMagazine(last)
				c.magPool.put(last)
			}
		}
	}

	c.mu.Lock()
	for c.mags != nil {
		m := c.mags
		c.mags = m.next
		m.next = nil
		c.mu.Unlock()

		freed += c.drainMagazine(m)
		c.magPool.put(m)

		if mode == ReclaimLight && freed > 0 {
			return freed
		}
		c.mu.Lock()
	}
	c.mu.Unlock()

	return freed
}

// drainMagazine pushes every object in m back through slabObjDestroy,
// which may free slabs and therefore frames. m must no longer be
// reachable from any per-CPU slot or the shared list when this is
// called.
func (c *Cache) drainMagazine(m *Magazine) uint64 {
	held := int64(m.busy)

	var freed uint64
	c.mu.Lock()
	for !m.empty() {
		addr := m.pop()
		freed += c.slabObjDestroy(addr)
	}
	c.mu.Unlock()

	atomic.AddInt64(&c.cachedObjs, -held)
	return freed
}
