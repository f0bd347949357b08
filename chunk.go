package pool

// unusableDepth marks a buddy-tree node with no free descendant. It is
// one past the deepest real depth (the leaves, at depth maxOrder).
func unusableDepth(maxOrder int) byte {
	return byte(maxOrder + 1)
}

// chunk is a backing region of chunkSize bytes managed by one complete
// binary buddy tree. memoryMap/depthMap are indexed from
// 1; index 0 is unused. Node i's children are 2i and 2i+1; its depth is
// floor(log2(i)).
type chunk struct {
	arena *arena

	region memoryRegion // backing bytes + optional alignment offset

	pageSize   int
	pageShifts int
	maxOrder   int
	chunkSize  int

	memoryMap []byte
	depthMap  []byte
	subpages  []*subpage // one slot per leaf page, populated lazily

	freeBytes int

	unpooled bool // true for huge, single-use allocations

	// chunk-list membership
	list       *chunkList
	prevChunk  *chunk
	nextChunk  *chunk
}

// newChunk builds a pooled chunk backed by region, with a fresh buddy
// tree where every node is maximally free.
func newChunk(a *arena, region memoryRegion, pageSize, pageShifts, maxOrder int) *chunk {
	n := 1 << maxOrder
	c := &chunk{
		arena:      a,
		region:     region,
		pageSize:   pageSize,
		pageShifts: pageShifts,
		maxOrder:   maxOrder,
		chunkSize:  pageSize << maxOrder,
		memoryMap:  make([]byte, 2*n),
		depthMap:   make([]byte, 2*n),
		subpages:   make([]*subpage, n),
		freeBytes:  pageSize << maxOrder,
	}
	c.initTree()
	return c
}

// newUnpooledChunk builds a single-use chunk sized exactly to request,
// with no tree, no subpages, and no list membership.
func newUnpooledChunk(a *arena, region memoryRegion, capacity int) *chunk {
	return &chunk{
		arena:     a,
		region:    region,
		chunkSize: capacity,
		freeBytes: 0,
		unpooled:  true,
	}
}

func (c *chunk) initTree() {
	for d := 0; d <= c.maxOrder; d++ {
		depth := byte(d)
		lo, hi := 1<<d, 1<<(d+1)
		for id := lo; id < hi; id++ {
			c.depthMap[id] = depth
			c.memoryMap[id] = depth
		}
	}
}

func depthOf(id int) int {
	return log2(id)
}

// runLength returns the number of bytes a node of this chunk's tree
// covers.
func (c *chunk) runLength(id int) int {
	return 1 << (c.logChunkSize() - depthOf(id))
}

func (c *chunk) logChunkSize() int {
	return c.pageShifts + c.maxOrder
}

// runOffset returns the byte offset within the chunk that node id
// covers.
func (c *chunk) runOffset(id int) int {
	d := depthOf(id)
	shift := id ^ (1 << d)
	return shift * c.runLength(id)
}

// subpageIdx maps a leaf tree index to its subpages[] slot.
func (c *chunk) subpageIdx(leafID int) int {
	return leafID ^ (1 << c.maxOrder)
}

// usage returns the percentage (0-100) of this chunk's bytes currently
// allocated, used by ChunkList to decide bucket membership.
func (c *chunk) usage() int {
	if c.freeBytes == 0 {
		return 100
	}
	freePercentage := c.freeBytes * 100 / c.chunkSize
	return 100 - freePercentage
}

// allocateRun allocates a contiguous run of at least normCapacity
// bytes (normCapacity >= pageSize, already a power of two). Returns
// the packed handle, or 0 with ok=false on failure.
func (c *chunk) allocateRun(normCapacity int) (uint64, bool) {
	d := c.maxOrder - (log2(normCapacity) - c.pageShifts)
	id := c.allocateNode(d)
	if id < 0 {
		return 0, false
	}
	c.freeBytes -= c.runLength(id)
	return packRunHandle(uint32(id)), true
}

// allocateSubpage allocates one element of an arena size-class subpage
// backed by a fresh or reused leaf page of this chunk. head is the
// arena's class head sentinel for elemSize. Returns the packed handle,
// or 0 with ok=false on failure.
func (c *chunk) allocateSubpage(head *subpage, elemSize int) (uint64, bool) {
	id := c.allocateNode(c.maxOrder)
	if id < 0 {
		return 0, false
	}
	c.freeBytes -= c.pageSize

	idx := c.subpageIdx(id)
	sp := c.subpages[idx]
	if sp == nil {
		sp = &subpage{}
		c.subpages[idx] = sp
	}
	sp.init(c, head, uint32(id), c.pageSize, elemSize)

	bitmapIdx, ok := sp.allocate()
	if !ok {
		return 0, false
	}
	return packSubpageHandle(bitmapIdx, uint32(id)), true
}

// allocateNode descends the buddy tree looking for a free node at
// depth d by walking down from the root, preferring the child whose
// subtree still has room. Returns -1 if none is available.
func (c *chunk) allocateNode(d int) int {
	id := 1
	initial := -(1 << uint(d)) // all bits set except the low d bits
	val := c.memoryMap[id]
	if int(val) > d {
		return -1
	}
	for int(val) < d || (id&initial) == 0 {
		id <<= 1
		val = c.memoryMap[id]
		if int(val) > d {
			id ^= 1
			val = c.memoryMap[id]
		}
	}
	c.memoryMap[id] = unusableDepth(c.maxOrder)
	c.updateParentsAlloc(id)
	return id
}

func (c *chunk) updateParentsAlloc(id int) {
	for id > 1 {
		parent := id >> 1
		v1 := c.memoryMap[id]
		v2 := c.memoryMap[id^1]
		v := v1
		if v2 < v {
			v = v2
		}
		c.memoryMap[parent] = v
		id = parent
	}
}

// freeNode resets node id to fully free and propagates merges up to
// the root, merging buddies back together where both have gone free.
func (c *chunk) freeNode(id int) {
	c.memoryMap[id] = c.depthMap[id]
	c.updateParentsFree(id)
}

func (c *chunk) updateParentsFree(id int) {
	logChild := depthOf(id) + 1
	for id > 1 {
		parent := id >> 1
		v1 := c.memoryMap[id]
		v2 := c.memoryMap[id^1]
		logChild--
		if int(v1) == logChild && int(v2) == logChild {
			c.memoryMap[parent] = byte(logChild - 1)
		} else {
			v := v1
			if v2 < v {
				v = v2
			}
			c.memoryMap[parent] = v
		}
		id = parent
	}
}

// free releases handle back into this chunk. If the handle names a
// subpage slot, the subpage is freed first; the page is returned to
// the buddy tree only if Subpage.free reports the page is no longer in
// use.
func (c *chunk) free(handle uint64) {
	bitmapIdx, memoryMapIdx := unpackHandle(handle)
	id := int(memoryMapIdx)

	if isSubpageHandle(handle) {
		idx := c.subpageIdx(id)
		sp := c.subpages[idx]
		if sp.free(bitmapIdx) {
			return
		}
	}

	c.freeBytes += c.runLength(id)
	c.freeNode(id)
}

// isFullyFree reports whether the entire chunk has returned to its
// initial state.
func (c *chunk) isFullyFree() bool {
	return c.freeBytes == c.chunkSize
}
