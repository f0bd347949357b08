package pool

import "sync/atomic"

// ringCapacityFloor is the smallest ring size allowed; zero disables
// caching for that tier entirely.
const ringCapacityFloor = 0

// mpscRing is a bounded, lock-free, multi-producer/single-consumer
// index ring: producers race a CAS on tail to claim a slot, only the
// consumer advances head. A single MPSC ring serves each class rather
// than one SPSC ring per producer thread, since Go goroutines have no
// stable per-OS-thread identity to key per-producer rings by. It carries no
// payload itself; classQueue pairs claimed slots with cacheEntry
// values.
type mpscRing struct {
	mask uint64
	size uint64
	head atomic.Uint64 // next slot to pop; owned by the consumer
	tail atomic.Uint64 // next slot to claim; CAS'd by producers
}

// newMPSCRing builds a ring of the smallest power-of-two capacity
// >= capacity. A capacity <= 0 yields a disabled (always-full) ring.
func newMPSCRing(capacity int) *mpscRing {
	if capacity <= 0 {
		return &mpscRing{}
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &mpscRing{mask: uint64(n - 1), size: uint64(n)}
}

// claim reserves the next slot index for a producer, or reports the
// ring is full/disabled.
func (r *mpscRing) claim() (slot uint64, ok bool) {
	if r.size == 0 {
		return 0, false
	}
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= r.size {
			return 0, false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			return tail & r.mask, true
		}
	}
}

// release advances head past the slot the consumer just read, or
// reports the ring is empty/disabled.
func (r *mpscRing) release() (slot uint64, ok bool) {
	if r.size == 0 {
		return 0, false
	}
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	r.head.Store(head + 1)
	return head & r.mask, true
}

func (r *mpscRing) len() int {
	return int(r.tail.Load() - r.head.Load())
}

// cacheEntry pairs a cached handle with the chunk it belongs to,
// everything Free needs to hand it back to the arena without
// consulting the arena's locked state.
type cacheEntry struct {
	c      *chunk
	handle uint64
}

// classQueue is an mpscRing of slot indices plus the payload array
// those indices address: a bare uint64 handle alone doesn't carry
// which chunk it belongs to (handles are only unique within one
// chunk's tree).
type classQueue struct {
	ring    *mpscRing
	entries []cacheEntry
}

func newClassQueue(capacity int) *classQueue {
	r := newMPSCRing(capacity)
	return &classQueue{ring: r, entries: make([]cacheEntry, r.size)}
}

func (q *classQueue) push(c *chunk, handle uint64) bool {
	slot, ok := q.ring.claim()
	if !ok {
		return false
	}
	q.entries[slot] = cacheEntry{c: c, handle: handle}
	return true
}

func (q *classQueue) pop() (cacheEntry, bool) {
	slot, ok := q.ring.release()
	if !ok {
		return cacheEntry{}, false
	}
	return q.entries[slot], true
}

func (q *classQueue) len() int {
	if q.ring == nil {
		return 0
	}
	return q.ring.len()
}

// trimHitThreshold is the default number of consecutive cache hits
// after which each queue is halved.
const trimHitThreshold = 8192

// ThreadCache is a per-goroutine magazine of recently freed handles,
// shielding the owning arena's mutex from the hot allocate/free path.
// A ThreadCache is bound to exactly one arena and is meant to be used
// by one goroutine at a time; callers that migrate work across
// goroutines should Release the old cache and Acquire a fresh one
// rather than share it.
type ThreadCache struct {
	allocator *Allocator
	ar        *arena
	pool      []*arena

	tiny   []*classQueue
	small  []*classQueue
	normal []*classQueue

	hitsSinceMiss int
	misses        atomic.Int64

	released bool
}

func newThreadCache(al *Allocator, ar *arena, pool []*arena, cfg Config) *ThreadCache {
	tc := &ThreadCache{allocator: al, ar: ar, pool: pool}

	tc.tiny = make([]*classQueue, len(ar.tinyHeads))
	for i := range tc.tiny {
		tc.tiny[i] = newClassQueue(cfg.TinyCacheSize)
	}
	tc.small = make([]*classQueue, len(ar.smallHeads))
	for i := range tc.small {
		tc.small[i] = newClassQueue(cfg.SmallCacheSize)
	}
	numNormal := cfg.MaxOrder + 1
	tc.normal = make([]*classQueue, numNormal)
	for i := range tc.normal {
		tc.normal[i] = newClassQueue(cfg.NormalCacheSize)
	}

	return tc
}

// queueFor returns the class queue a normalised capacity maps to, or
// nil for huge requests (never cached).
func (tc *ThreadCache) queueFor(normCapacity int, cls sizeClass) *classQueue {
	switch cls {
	case classTiny:
		return tc.tiny[normCapacity>>4-1]
	case classSmall:
		idx := log2(normCapacity) - log2(tinyBoundary)
		return tc.small[idx]
	case classNormal:
		idx := log2(normCapacity) - log2(tc.ar.pageSize)
		if idx < 0 || idx >= len(tc.normal) {
			return nil
		}
		return tc.normal[idx]
	default:
		return nil
	}
}

// allocate tries the cache; on a miss it increments the per-cache miss
// counter and reports ok=false so the caller falls through to the
// arena.
func (tc *ThreadCache) allocate(normCapacity int, cls sizeClass) (*chunk, uint64, bool) {
	q := tc.queueFor(normCapacity, cls)
	if q == nil {
		return nil, 0, false
	}
	e, ok := q.pop()
	if !ok {
		tc.misses.Add(1)
		tc.hitsSinceMiss = 0
		return nil, 0, false
	}
	tc.hitsSinceMiss++
	if tc.hitsSinceMiss >= trimHitThreshold {
		tc.trim()
		tc.hitsSinceMiss = 0
	}
	return e.c, e.handle, true
}

// free offers handle to the cache. It only accepts handles produced by
// this cache's home arena; anything else must go back to its own arena
// directly, since returnToArena always locks tc.ar. If the class queue
// has room the handle is pushed; otherwise the caller must return it
// to the arena directly.
func (tc *ThreadCache) free(c *chunk, handle uint64, normCapacity int, cls sizeClass) bool {
	if tc.released || c.arena != tc.ar {
		return false
	}
	q := tc.queueFor(normCapacity, cls)
	if q == nil {
		return false
	}
	return q.push(c, handle)
}

// Allocate serves capacity through this cache's hot path, falling
// through to the cache's home arena on a miss.
func (tc *ThreadCache) Allocate(capacity int) (*Buffer, error) {
	return tc.allocator.allocate(capacity, tc.pool, tc)
}

// Free returns buf through the allocator, offering its handle to this
// cache first when buf was served by it.
func (tc *ThreadCache) Free(buf *Buffer) {
	tc.allocator.Free(buf)
}

// trim halves every queue, returning the oldest handles to their
// owning arenas.
func (tc *ThreadCache) trim() {
	for _, q := range tc.tiny {
		tc.drainHalf(q)
	}
	for _, q := range tc.small {
		tc.drainHalf(q)
	}
	for _, q := range tc.normal {
		tc.drainHalf(q)
	}
}

func (tc *ThreadCache) drainHalf(q *classQueue) {
	n := q.len() / 2
	for i := 0; i < n; i++ {
		e, ok := q.pop()
		if !ok {
			return
		}
		tc.returnToArena(e)
	}
}

// Release drains every cached handle back to its arena and disables
// further use of this cache.
func (tc *ThreadCache) Release() {
	if tc.released {
		return
	}
	tc.released = true
	for _, q := range tc.tiny {
		tc.drainAll(q)
	}
	for _, q := range tc.small {
		tc.drainAll(q)
	}
	for _, q := range tc.normal {
		tc.drainAll(q)
	}
	tc.ar.threadRegistrations.Add(-1)
}

func (tc *ThreadCache) drainAll(q *classQueue) {
	for {
		e, ok := q.pop()
		if !ok {
			return
		}
		tc.returnToArena(e)
	}
}

func (tc *ThreadCache) returnToArena(e cacheEntry) {
	_, memoryMapIdx := unpackHandle(e.handle)
	var cls sizeClass
	if isSubpageHandle(e.handle) {
		idx := e.c.subpageIdx(int(memoryMapIdx))
		sp := e.c.subpages[idx]
		if sp != nil && sp.elemSize < tinyBoundary {
			cls = classTiny
		} else {
			cls = classSmall
		}
	} else {
		cls = classNormal
	}
	tc.ar.free(e.c, e.handle, cls)
}

// Misses returns the number of cache misses observed so far.
func (tc *ThreadCache) Misses() int64 {
	return tc.misses.Load()
}
