package slab

// AllocFlags constrains how Cache.Alloc may behave, mirroring the
// frame allocator's own flag set.
type AllocFlags uint32

const (
	// FlagAtomic forbids the call from ever sleeping. This
	// implementation never sleeps regardless (no blocking wait is
	// implemented at this layer); the flag is passed through to the
	// frame allocator as frame.FlagAtomic and does not by itself stop
	// reclaim, which only FlagNoReclaim does.
	FlagAtomic AllocFlags = 1 << iota
	// FlagNoReclaim forbids invoking the reclaim callback on OOM.
	FlagNoReclaim
)

// ReclaimMode selects how aggressively Reclaim drains cached memory.
type ReclaimMode int

const (
	// ReclaimLight walks the shared full-magazine list and stops as
	// soon as at least one frame has been released. This stop-early
	// heuristic is known to leave reclaimable memory on the table in
	// some cache orderings; it is preserved as-is rather than fixed.
	ReclaimLight ReclaimMode = iota
	// ReclaimAggressive additionally drains every per-CPU magazine
	// pair before walking the shared list.
	ReclaimAggressive
)
