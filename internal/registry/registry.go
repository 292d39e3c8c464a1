// Package registry implements the process-wide cache registry, the
// reclaim-all driver, and the bootstrap sequence that wires the shared
// magazine pool, shared outside-descriptor pool, and frame arena
// together before any cache can be created.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/slabkernel/kmem/internal/frame"
	"github.com/slabkernel/kmem/internal/logging"
	"github.com/slabkernel/kmem/internal/slab"
)

// Config tunes the registry and every cache it bootstraps, following a
// defaults-struct-plus-override configuration pattern.
type Config struct {
	Cache slab.Config

	// ArenaPages sizes the backing frame arena.
	ArenaPages int

	// BloomExpectedCaches and BloomFalsePositive size the advisory
	// cache-name collision filter.
	BloomExpectedCaches uint
	BloomFalsePositive  float64
	ReclaimLimitPerMin  int64
	ReclaimBurst        int64
}

// DefaultConfig returns sane defaults: the cache layer's own defaults,
// a 16K-page arena (64 MiB), and a bloom filter sized for a few hundred
// caches with a 1% false-positive rate.
func DefaultConfig() Config {
	return Config{
		Cache:               slab.DefaultConfig(),
		ArenaPages:          16384,
		BloomExpectedCaches: 256,
		BloomFalsePositive:  0.01,
		ReclaimLimitPerMin:  60,
		ReclaimBurst:        5,
	}
}

// Registry is the process-wide cache list plus the bootstrap pools that
// stand in for a statically-initialised magazine cache and
// cache-descriptor cache; they are plain descriptorPool instances
// rather than ordinary Cache values so that bootstrapping a process
// never recurses into the object-cache machinery it is busy setting up.
type Registry struct {
	mu     sync.Mutex
	caches []*slab.Cache
	byName map[string]*slab.Cache

	cfg    Config
	frames frame.Allocator

	magPool *slab.MagazinePool
	descs   *slab.SlabDescriptorPool

	nameFilter *bloom.BloomFilter
	filterMu   sync.Mutex

	reclaimMu       sync.Mutex
	reclaimStore    *store.MemoryStore
	reclaimLimiters map[slab.ReclaimMode]*limiter.TokenBucket
	lastFreed       map[slab.ReclaimMode]uint64

	logger  *logging.Logger
	panicFn slab.PanicFunc
}

// New creates a registry and its two bootstrap pools. The frame
// allocator backing the whole process is created here (an
// ArenaAllocator of cfg.ArenaPages pages) and wired to invoke
// r.ReclaimAll on pressure, closing the loop between frame exhaustion
// and cache reclaim.
func New(cfg Config, logger *logging.Logger, panicFn slab.PanicFunc) *Registry {
	arena := frame.NewArenaAllocator(cfg.ArenaPages)

	r := &Registry{
		byName:          make(map[string]*slab.Cache),
		cfg:             cfg,
		frames:          arena,
		magPool:         slab.NewMagazinePool(cfg.Cache.MagazineSize),
		descs:           slab.NewSlabDescriptorPool(),
		nameFilter:      bloom.NewWithEstimates(cfg.BloomExpectedCaches, cfg.BloomFalsePositive),
		reclaimStore:    store.NewMemoryStore(time.Minute),
		reclaimLimiters: make(map[slab.ReclaimMode]*limiter.TokenBucket),
		lastFreed:       make(map[slab.ReclaimMode]uint64),
		logger:          logger,
		panicFn:         panicFn,
	}

	for _, mode := range []slab.ReclaimMode{slab.ReclaimLight, slab.ReclaimAggressive} {
		tb, err := limiter.NewTokenBucket(limiter.Config{
			Rate:     cfg.ReclaimLimitPerMin,
			Duration: time.Minute,
			Burst:    cfg.ReclaimBurst,
		}, r.reclaimStore)
		if err == nil {
			r.reclaimLimiters[mode] = tb
		}
	}

	arena.SetReclaimFunc(func(aggressive bool) uint64 {
		mode := slab.ReclaimLight
		if aggressive {
			mode = slab.ReclaimAggressive
		}
		return r.ReclaimAll(mode)
	})

	return r
}

// Frames exposes the process-wide frame allocator, e.g. for the kalloc
// front-end's address-to-cache lookup.
func (r *Registry) Frames() frame.Allocator { return r.frames }

// PageSize exposes the page size every cache in this registry was
// configured with, so the kalloc front-end can resolve an address back
// to its owning cache via slab.CacheOf.
func (r *Registry) PageSize() uint32 { return r.cfg.Cache.PageSize }

// NewCache bootstraps a cache and appends it to the registry under its
// lock. Cache names are advisory, not enforced unique: a likely
// collision, detected via the bloom filter, only logs a Warn and never
// blocks creation.
func (r *Registry) NewCache(name string, size, align uint32, ctor slab.Ctor, dtor slab.Dtor, noMagazine bool) *slab.Cache {
	r.filterMu.Lock()
	likelyDup := r.nameFilter.Test([]byte(name))
	r.nameFilter.Add([]byte(name))
	r.filterMu.Unlock()

	if likelyDup && r.logger != nil {
		r.logger.Warn("cache name likely already registered", logging.String("name", name))
	}

	c := slab.New(name, size, align, ctor, dtor, noMagazine,
		r.frames, r.magPool, r.descs, r.cfg.Cache, r.logger, r.panicFn)

	r.mu.Lock()
	r.caches = append(r.caches, c)
	r.byName[name] = c
	r.mu.Unlock()

	return c
}

// Lookup returns a previously registered cache by name, or nil.
func (r *Registry) Lookup(name string) *slab.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// Destroy tears the cache down and unlinks it from the registry.
func (r *Registry) Destroy(c *slab.Cache) {
	c.Destroy()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, c.Name())
	for i, cc := range r.caches {
		if cc == c {
			r.caches = append(r.caches[:i], r.caches[i+1:]...)
			break
		}
	}
}

// ReclaimAll walks the global cache registry under its lock, invokes
// per-cache reclaim on each, and accumulates freed-frame counts. Calls
// are throttled by a token bucket keyed by reclaim flavor: when the
// bucket is empty the pass is skipped and the last known freed count is
// returned instead of blocking, so a NO_RECLAIM caller is never made to
// wait.
func (r *Registry) ReclaimAll(mode slab.ReclaimMode) uint64 {
	r.reclaimMu.Lock()
	tb := r.reclaimLimiters[mode]
	r.reclaimMu.Unlock()

	if tb != nil {
		key := "light"
		if mode == slab.ReclaimAggressive {
			key = "aggressive"
		}
		if !tb.Allow(key) {
			r.reclaimMu.Lock()
			last := r.lastFreed[mode]
			r.reclaimMu.Unlock()
			if r.logger != nil {
				r.logger.Warn("reclaim rate-limited, skipping pass", logging.String("mode", key))
			}
			return last
		}
	}

	r.mu.Lock()
	var freed uint64
	for _, c := range r.caches {
		freed += c.Reclaim(mode)
	}
	r.mu.Unlock()

	r.reclaimMu.Lock()
	r.lastFreed[mode] = freed
	r.reclaimMu.Unlock()

	return freed
}

// Dump prints one row per cache with name, object size, pages per slab,
// objects per slab, allocated slabs, cached (in magazines) object
// count, outstanding object count, and inside/outside flag. Format is
// for operator inspection only.
func (r *Registry) Dump() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := fmt.Sprintf("%-20s %8s %10s %10s %8s %8s %8s %-8s\n",
		"NAME", "OBJSIZE", "PAGES/SLB", "OBJS/SLB", "SLABS", "CACHED", "OUTSTND", "PLACE")
	for _, c := range r.caches {
		place := "outside"
		if c.Inside() {
			place = "inside"
		}
		out += fmt.Sprintf("%-20s %8d %10d %10d %8d %8d %8d %-8s\n",
			c.Name(), c.ObjSize(), 1<<c.Order(), c.ObjsPerSlab(),
			c.AllocatedSlabs(), c.CachedObjects(), c.AllocatedObjects(), place)
	}
	return out
}
