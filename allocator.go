package pool

import (
	"fmt"
	"runtime"
	"sync"
)

// Config enumerates every construction-time knob of the allocator.
// Zero values are replaced by DefaultConfig's defaults except where
// noted.
type Config struct {
	// PageSize must be a power of two in [512 B, 1 GiB]. Default 8 KiB.
	PageSize int

	// MaxOrder is the buddy tree depth; pageSize<<maxOrder must not
	// exceed 1 GiB. Default 11 (so ChunkSize defaults to 16 MiB).
	MaxOrder int

	// HeapArenaCount / DirectArenaCount size the facade's arena pools.
	// Default 2 * runtime.GOMAXPROCS(0).
	HeapArenaCount   int
	DirectArenaCount int

	// TinyCacheSize / SmallCacheSize / NormalCacheSize bound each
	// ThreadCache class queue; 0 disables that tier. Defaults
	// 512/256/64.
	TinyCacheSize   int
	SmallCacheSize  int
	NormalCacheSize int

	// CacheLineAlignment further rounds every normalised size up to
	// this many bytes when non-zero; must be a power of two (typically
	// 64 or 128). Default 0 (disabled).
	CacheLineAlignment int

	// DirectAlignment is the alignment DirectProvider honors for
	// off-heap-shaped regions. Default matches CacheLineAlignment, or
	// 64 if that is also 0.
	DirectAlignment int

	// DisableThreadCache turns off the implicit per-call ThreadCache
	// that Allocate/AllocateDirect otherwise borrow from a shared pool.
	// AcquireCache remains available regardless, for callers that want
	// an explicit cache bound to a single goroutine. Default false
	// (caching enabled), matching the zero-means-default convention of
	// the fields above whose zero value means "use the default".
	DisableThreadCache bool
}

// DefaultConfig returns the allocator's default configuration.
func DefaultConfig() Config {
	n := runtime.GOMAXPROCS(0)
	return Config{
		PageSize:           8192,
		MaxOrder:           11,
		HeapArenaCount:     2 * n,
		DirectArenaCount:   2 * n,
		TinyCacheSize:      512,
		SmallCacheSize:     256,
		NormalCacheSize:    64,
		CacheLineAlignment: 0,
		DisableThreadCache: false,
	}
}

// ChunkSize returns PageSize << MaxOrder.
func (c Config) ChunkSize() int {
	return c.PageSize << uint(c.MaxOrder)
}

// Validate checks every configuration constraint, returning a distinct
// wrapped sentinel per failure so callers can pattern-match with
// errors.Is.
func (c Config) Validate() error {
	if !isPowerOfTwo(c.PageSize) || c.PageSize < 512 || c.PageSize > 1<<30 {
		return wrapConfigErr(ErrPageSizeNotPowerOfTwo, fmt.Sprintf("got %d", c.PageSize))
	}
	if c.MaxOrder < 0 || c.MaxOrder > 14 {
		return wrapConfigErr(ErrMaxOrderOutOfRange, fmt.Sprintf("got %d", c.MaxOrder))
	}
	if c.PageSize<<uint(c.MaxOrder) > 1<<30 {
		return wrapConfigErr(ErrChunkSizeTooLarge, fmt.Sprintf("pageSize=%d maxOrder=%d", c.PageSize, c.MaxOrder))
	}
	if c.CacheLineAlignment != 0 && !isPowerOfTwo(c.CacheLineAlignment) {
		return wrapConfigErr(ErrBadAlignment, fmt.Sprintf("got %d", c.CacheLineAlignment))
	}
	if c.HeapArenaCount < 0 || c.DirectArenaCount < 0 {
		return wrapConfigErr(ErrMaxOrderOutOfRange, "arena counts must be non-negative")
	}
	return nil
}

// Allocator is the façade holding a set of heap and direct arenas,
// normalising requests and routing them to an arena or the unpooled
// huge path.
type Allocator struct {
	cfg Config

	heapProvider   MemoryProvider
	directProvider MemoryProvider

	heapArenas   []*arena
	directArenas []*arena

	// heapCaches / directCaches lend out a *ThreadCache for the
	// duration of one Allocate/AllocateDirect/Reallocate call when
	// DisableThreadCache is false, returning it for the next caller to
	// borrow once done. Exactly one borrower holds a given *ThreadCache
	// at a time, so its single-consumer cache queues stay safe even
	// though many goroutines share the pool over time.
	heapCaches   sync.Pool
	directCaches sync.Pool

	mu     sync.Mutex
	closed bool
}

// New constructs an Allocator from cfg, filling in defaults for any
// zero field that DefaultConfig does not require to be explicit.
func New(cfg Config) (*Allocator, error) {
	cfg = fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pageShifts := log2(cfg.PageSize)

	al := &Allocator{
		cfg:            cfg,
		heapProvider:   HeapProvider{},
		directProvider: DirectProvider{Alignment: cfg.DirectAlignment},
	}

	al.heapArenas = make([]*arena, cfg.HeapArenaCount)
	for i := range al.heapArenas {
		al.heapArenas[i] = newArena(al.heapProvider, cfg.PageSize, pageShifts, cfg.MaxOrder)
	}
	al.directArenas = make([]*arena, cfg.DirectArenaCount)
	for i := range al.directArenas {
		al.directArenas[i] = newArena(al.directProvider, cfg.PageSize, pageShifts, cfg.MaxOrder)
	}

	al.heapCaches.New = func() any { return al.acquireCache(al.heapArenas) }
	al.directCaches.New = func() any { return al.acquireCache(al.directArenas) }

	return al, nil
}

func fillDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.PageSize == 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.MaxOrder == 0 {
		cfg.MaxOrder = d.MaxOrder
	}
	if cfg.HeapArenaCount == 0 {
		cfg.HeapArenaCount = d.HeapArenaCount
	}
	if cfg.DirectArenaCount == 0 {
		cfg.DirectArenaCount = d.DirectArenaCount
	}
	// TinyCacheSize/SmallCacheSize/NormalCacheSize are left as given:
	// 0 disables that cache tier.
	if cfg.DirectAlignment == 0 {
		cfg.DirectAlignment = cfg.CacheLineAlignment
		if cfg.DirectAlignment == 0 {
			cfg.DirectAlignment = 64
		}
	}
	return cfg
}

// leastLoadedArena returns the arena with the fewest thread
// registrations in pool, tie-broken by round robin.
func leastLoadedArena(pool []*arena) *arena {
	best := pool[0]
	bestCount := best.threadRegistrations.Load()
	for _, a := range pool[1:] {
		if c := a.threadRegistrations.Load(); c < bestCount {
			best, bestCount = a, c
		}
	}
	return best
}

// AcquireCache binds a new ThreadCache to the least-loaded heap arena
// and returns it. Callers should Release it when done (on goroutine
// exit, or when migrating to another goroutine) rather than share it
// across goroutines.
func (al *Allocator) AcquireCache() *ThreadCache {
	return al.acquireCache(al.heapArenas)
}

// AcquireDirectCache is AcquireCache for the direct arena pool.
func (al *Allocator) AcquireDirectCache() *ThreadCache {
	return al.acquireCache(al.directArenas)
}

func (al *Allocator) acquireCache(pool []*arena) *ThreadCache {
	a := leastLoadedArena(pool)
	a.threadRegistrations.Add(1)
	return newThreadCache(al, a, pool, al.cfg)
}

// Allocate normalises capacity and serves it through an implicit
// ThreadCache borrowed from a shared pool, unless DisableThreadCache
// is set. It returns ErrClosed after Close, ErrRequestTooLarge for a
// negative or oversized capacity, and the provider's error when the
// backing provider is exhausted.
func (al *Allocator) Allocate(capacity int) (*Buffer, error) {
	if al.cfg.DisableThreadCache {
		return al.allocate(capacity, al.heapArenas, nil)
	}
	tc := al.heapCaches.Get().(*ThreadCache)
	buf, err := al.allocate(capacity, al.heapArenas, tc)
	al.heapCaches.Put(tc)
	return buf, err
}

// AllocateDirect is Allocate routed to the direct arena pool.
func (al *Allocator) AllocateDirect(capacity int) (*Buffer, error) {
	if al.cfg.DisableThreadCache {
		return al.allocate(capacity, al.directArenas, nil)
	}
	tc := al.directCaches.Get().(*ThreadCache)
	buf, err := al.allocate(capacity, al.directArenas, tc)
	al.directCaches.Put(tc)
	return buf, err
}

func (al *Allocator) allocate(capacity int, pool []*arena, cache *ThreadCache) (*Buffer, error) {
	if al.isClosed() {
		return nil, ErrClosed
	}
	if capacity < 0 || capacity > maxAllocationSize {
		return nil, ErrRequestTooLarge
	}
	if capacity == 0 {
		// A 0-byte request returns a valid handle that Free accepts,
		// without touching any arena.
		return &Buffer{cache: cache}, nil
	}

	normCapacity := normalize(capacity, al.cfg.CacheLineAlignment)
	cls := classify(normCapacity, al.cfg.PageSize, al.cfg.ChunkSize())

	buf := &Buffer{cache: cache, cls: cls, arena: nil}

	if cls == classHuge {
		a := leastLoadedArena(pool)
		c, handle, err := a.allocateHuge(normCapacity)
		if err != nil {
			return nil, err
		}
		buf.arena = a
		bindBuffer(buf, c, handle, capacity)
		return buf, nil
	}

	if cache != nil {
		if c, handle, ok := cache.allocate(normCapacity, cls); ok {
			buf.arena = cache.ar
			bindBuffer(buf, c, handle, capacity)
			return buf, nil
		}
	}

	var a *arena
	if cache != nil {
		a = cache.ar
	} else {
		a = leastLoadedArena(pool)
	}
	c, handle, err := a.allocate(normCapacity)
	if err != nil {
		return nil, err
	}
	buf.arena = a
	bindBuffer(buf, c, handle, capacity)
	return buf, nil
}

// Free releases buf. Double-free is a contract violation and panics.
func (al *Allocator) Free(buf *Buffer) {
	if buf.freed {
		panic("pool: double free")
	}
	buf.freed = true

	if buf.arena == nil {
		// The 0-byte sentinel buffer: nothing was ever allocated.
		return
	}

	if buf.cls == classHuge {
		buf.arena.free(buf.c, buf.handle, classHuge)
		return
	}

	if buf.cache != nil && buf.cache.free(buf.c, buf.handle, buf.length, buf.cls) {
		return
	}
	buf.arena.free(buf.c, buf.handle, buf.cls)
}

// Reallocate frees buf's old handle and allocates a new buffer of
// newCapacity, copying min(oldLen, newLen) bytes across.
func (al *Allocator) Reallocate(buf *Buffer, newCapacity int) (*Buffer, error) {
	pool, caches := al.heapArenas, &al.heapCaches
	if buf.arena != nil {
		for _, a := range al.directArenas {
			if a == buf.arena {
				pool, caches = al.directArenas, &al.directCaches
				break
			}
		}
	}

	// The new allocation must borrow its own ThreadCache rather than
	// reuse buf.cache: buf.cache may already be back in its pool and
	// concurrently borrowed by another goroutine, and its ring's
	// consumer side is not safe for two borrowers at once.
	var newBuf *Buffer
	var err error
	if al.cfg.DisableThreadCache {
		newBuf, err = al.allocate(newCapacity, pool, nil)
	} else {
		tc := caches.Get().(*ThreadCache)
		newBuf, err = al.allocate(newCapacity, pool, tc)
		caches.Put(tc)
	}
	if err != nil {
		return nil, err
	}
	n := min(len(buf.data), len(newBuf.data))
	copy(newBuf.data[:n], buf.data[:n])
	al.Free(buf)
	return newBuf, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Close marks the allocator as closed; subsequent Allocate/AllocateDirect
// calls fail with ErrClosed. Buffers already outstanding remain valid
// and must still be freed.
func (al *Allocator) Close() {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.closed = true
}

func (al *Allocator) isClosed() bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.closed
}

// Stats returns a best-effort snapshot of every heap and direct
// arena's per-class counters.
func (al *Allocator) Stats() Snapshot {
	return Snapshot{
		Heap:   snapshotArenas(al.heapArenas),
		Direct: snapshotArenas(al.directArenas),
	}
}
