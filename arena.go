package pool

import (
	"sync"
	"sync/atomic"
)

// arenaStats holds per-class allocate/free counters, read without
// holding the arena mutex; best-effort snapshots are acceptable.
type arenaStats struct {
	allocsTiny, allocsSmall, allocsNormal, allocsHuge atomic.Int64
	freesTiny, freesSmall, freesNormal, freesHuge      atomic.Int64
}

func (s *arenaStats) recordAlloc(c sizeClass) {
	switch c {
	case classTiny:
		s.allocsTiny.Add(1)
	case classSmall:
		s.allocsSmall.Add(1)
	case classNormal:
		s.allocsNormal.Add(1)
	case classHuge:
		s.allocsHuge.Add(1)
	}
}

func (s *arenaStats) recordFree(c sizeClass) {
	switch c {
	case classTiny:
		s.freesTiny.Add(1)
	case classSmall:
		s.freesSmall.Add(1)
	case classNormal:
		s.freesNormal.Add(1)
	case classHuge:
		s.freesHuge.Add(1)
	}
}

// arena owns a set of chunks (bucketed into six usage-banded
// chunkLists) and one subpage head list per tiny/small size class,
// serialising all mutation under a single mutex.
type arena struct {
	mu sync.Mutex

	provider MemoryProvider

	pageSize   int
	pageShifts int
	maxOrder   int
	chunkSize  int

	// subpage head sentinels, one per tiny/small class, indexed by
	// classIndex(normCapacity).
	tinyHeads  []*subpage
	smallHeads []*subpage

	qInit, q000, q025, q050, q075, q100 *chunkList

	stats arenaStats

	// threadRegistrations counts goroutines currently bound to this
	// arena, used by the facade's round-robin tie-break.
	threadRegistrations atomic.Int32
}

func newArena(provider MemoryProvider, pageSize, pageShifts, maxOrder int) *arena {
	a := &arena{
		provider:   provider,
		pageSize:   pageSize,
		pageShifts: pageShifts,
		maxOrder:   maxOrder,
		chunkSize:  pageSize << maxOrder,
	}

	a.qInit = newChunkList(a, 0, 25)
	a.q000 = newChunkList(a, 1, 50)
	a.q025 = newChunkList(a, 25, 75)
	a.q050 = newChunkList(a, 50, 100)
	a.q075 = newChunkList(a, 75, 100)
	a.q100 = newChunkList(a, 100, 101)

	a.qInit.prevList = nil // the first list in the chain has no predecessor
	a.qInit.nextList = a.q000
	a.q000.prevList = a.qInit
	a.q000.nextList = a.q025
	a.q025.prevList = a.q000
	a.q025.nextList = a.q050
	a.q050.prevList = a.q025
	a.q050.nextList = a.q075
	a.q075.prevList = a.q050
	a.q075.nextList = a.q100
	a.q100.prevList = a.q075
	a.q100.nextList = nil

	numTiny := tinyBoundary/16 - 1 // 31 classes: 16, 32, ..., 496
	a.tinyHeads = make([]*subpage, numTiny)
	for i := range a.tinyHeads {
		a.tinyHeads[i] = newSubpageHead()
	}

	numSmall := 0
	for sz := tinyBoundary; sz < pageSize; sz <<= 1 {
		numSmall++
	}
	a.smallHeads = make([]*subpage, numSmall)
	for i := range a.smallHeads {
		a.smallHeads[i] = newSubpageHead()
	}

	return a
}

// headFor returns the class head sentinel for a normalised tiny/small
// capacity, or nil if normCapacity isn't tiny/small.
func (a *arena) headFor(normCapacity int) *subpage {
	if normCapacity < tinyBoundary {
		return a.tinyHeads[normCapacity>>4-1]
	}
	if normCapacity < a.pageSize {
		idx := log2(normCapacity) - log2(tinyBoundary)
		return a.smallHeads[idx]
	}
	return nil
}

// allocate serves a normalised capacity request, returning the chunk
// that owns the resulting handle (nil for a fresh unpooled chunk is
// never returned here; huge requests are routed by the facade).
func (a *arena) allocate(normCapacity int) (*chunk, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cls := classify(normCapacity, a.pageSize, a.chunkSize)
	switch cls {
	case classTiny, classSmall:
		return a.allocateSubpage(normCapacity, cls)
	default:
		return a.allocateNormal(normCapacity, cls)
	}
}

// allocateSubpage serves the tiny/small fast path. On a miss it walks
// the same chunk lists allocateNormal does,
// but asks each candidate chunk to carve a subpage element directly
// (chunk.allocateSubpage performs its own single leaf-node allocation;
// it must never be preceded by a separate page-run allocation on the
// same chunk, or one leaf would be allocated twice).
func (a *arena) allocateSubpage(normCapacity int, cls sizeClass) (*chunk, uint64, error) {
	head := a.headFor(normCapacity)
	if head.next != head {
		sp := head.next
		bitmapIdx, ok := sp.allocate()
		if ok {
			a.stats.recordAlloc(cls)
			return sp.chunk, packSubpageHandle(bitmapIdx, sp.pageID), nil
		}
	}

	try := func(c *chunk) (uint64, bool) {
		return c.allocateSubpage(head, normCapacity)
	}
	for _, l := range []*chunkList{a.q050, a.q025, a.q000, a.qInit, a.q075} {
		if c, h, ok := l.allocate(try); ok {
			a.stats.recordAlloc(cls)
			return c, h, nil
		}
	}

	c, err := a.newPooledChunk()
	if err != nil {
		return nil, 0, err
	}
	h, ok := c.allocateSubpage(head, normCapacity)
	if !ok {
		a.provider.Release(c.region)
		return nil, 0, ErrBackingExhausted
	}
	a.qInit.add(c)
	a.qInit.moveAfterAllocate(c)
	a.stats.recordAlloc(cls)
	return c, h, nil
}

// allocateNormal serves the normal (run) path, trying chunk lists in
// the fixed order q050, q025, q000, qInit, q075, then falling back to
// a freshly created chunk installed in qInit.
func (a *arena) allocateNormal(normCapacity int, cls sizeClass) (*chunk, uint64, error) {
	try := func(c *chunk) (uint64, bool) {
		return c.allocateRun(normCapacity)
	}
	for _, l := range []*chunkList{a.q050, a.q025, a.q000, a.qInit, a.q075} {
		if c, h, ok := l.allocate(try); ok {
			a.stats.recordAlloc(cls)
			return c, h, nil
		}
	}

	c, err := a.newPooledChunk()
	if err != nil {
		return nil, 0, err
	}
	h, ok := c.allocateRun(normCapacity)
	if !ok {
		a.provider.Release(c.region)
		return nil, 0, ErrBackingExhausted
	}
	a.qInit.add(c)
	a.qInit.moveAfterAllocate(c)
	a.stats.recordAlloc(cls)
	return c, h, nil
}

// newPooledChunk acquires a fresh chunk-sized region from the
// provider and wraps it in a new, fully-free chunk. The caller is
// responsible for installing it in a chunkList once it has served at
// least one allocation.
func (a *arena) newPooledChunk() (*chunk, error) {
	region, err := a.provider.Acquire(a.chunkSize)
	if err != nil {
		return nil, err
	}
	return newChunk(a, region, a.pageSize, a.pageShifts, a.maxOrder), nil
}

// allocateHuge acquires a single-use unpooled chunk for a huge
// request, bypassing pooling entirely.
func (a *arena) allocateHuge(capacity int) (*chunk, uint64, error) {
	region, err := a.provider.Acquire(capacity)
	if err != nil {
		return nil, 0, err
	}
	c := newUnpooledChunk(a, region, capacity)
	a.stats.recordAlloc(classHuge)
	return c, packRunHandle(0), nil
}

// free returns handle to the chunk it belongs to, re-bucketing or
// destroying the chunk as needed.
func (a *arena) free(c *chunk, handle uint64, cls sizeClass) {
	if c.unpooled {
		a.mu.Lock()
		a.provider.Release(c.region)
		a.stats.recordFree(cls)
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	l := c.list
	if l.free(c, handle) {
		a.provider.Release(c.region)
	}
	a.stats.recordFree(cls)
}
