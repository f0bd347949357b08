package pool

// Buffer is the caller-visible handle to one live allocation. It is
// returned by Allocator.Allocate/ThreadCache and must be passed back
// to Free (or Reallocate) exactly once.
type Buffer struct {
	data []byte // bound backing window; len(data) == RequestCapacity

	c       *chunk
	handle  uint64
	arena   *arena
	cache   *ThreadCache // nil if this buffer bypassed a cache
	cls     sizeClass
	length  int // allocated (normalised) length backing this buffer
	offset  int // absolute byte offset into c.region
	request int // original requested capacity

	freed bool
}

// Bytes returns the buffer's backing window. The slice is only valid
// until the buffer is freed.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the originally requested capacity (not the normalised
// allocated length).
func (b *Buffer) Len() int {
	return b.request
}

// bindBuffer computes the absolute offset and length a handle refers
// to within chunk c, and slices out the backing window.
func bindBuffer(b *Buffer, c *chunk, handle uint64, requestCapacity int) {
	bitmapIdx, memoryMapIdx := unpackHandle(handle)
	id := int(memoryMapIdx)

	var relOffset, length int
	if c.unpooled {
		relOffset, length = 0, c.chunkSize
	} else if !isSubpageHandle(handle) {
		relOffset = c.runOffset(id)
		length = c.runLength(id)
	} else {
		sp := c.subpages[c.subpageIdx(id)]
		relOffset = c.runOffset(id) + int(bitmapIdx)*sp.elemSize
		length = sp.elemSize
	}

	b.c = c
	b.handle = handle
	b.offset = relOffset
	b.length = length
	b.request = requestCapacity
	b.data = c.region.absolute(relOffset, requestCapacity)
}
