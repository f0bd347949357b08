package pool

// chunkList is a doubly linked list of chunks whose usage percentage
// falls in [minUsage, maxUsage), chained forward to the next-higher
// usage bucket. The arena walks lists in a fixed order
// tuned to keep older, heavily used chunks busy.
type chunkList struct {
	arena *arena

	minUsage int
	maxUsage int

	prevList *chunkList // nil for the list a chunk is destroyed below
	nextList *chunkList // nil for the last (q100) list

	head *chunk
}

func newChunkList(a *arena, minUsage, maxUsage int) *chunkList {
	return &chunkList{arena: a, minUsage: minUsage, maxUsage: maxUsage}
}

// add links c at the head of this list.
func (l *chunkList) add(c *chunk) {
	c.list = l
	c.prevChunk = nil
	c.nextChunk = l.head
	if l.head != nil {
		l.head.prevChunk = c
	}
	l.head = c
}

// remove unlinks c from this list.
func (l *chunkList) remove(c *chunk) {
	if c.prevChunk != nil {
		c.prevChunk.nextChunk = c.nextChunk
	} else {
		l.head = c.nextChunk
	}
	if c.nextChunk != nil {
		c.nextChunk.prevChunk = c.prevChunk
	}
	c.prevChunk, c.nextChunk, c.list = nil, nil, nil
}

// allocate tries every chunk currently in this list in order, calling
// try on each until one succeeds. On success the chunk is re-bucketed
// if its usage crossed a threshold. Returns ok=false if no chunk in
// the list could serve the request. try is either (*chunk).allocateRun
// bound to a normCapacity, or a subpage-element attempt; the list
// itself is agnostic to which.
func (l *chunkList) allocate(try func(*chunk) (uint64, bool)) (c *chunk, handle uint64, ok bool) {
	for cur := l.head; cur != nil; cur = cur.nextChunk {
		h, allocated := try(cur)
		if !allocated {
			continue
		}
		l.moveAfterAllocate(cur)
		return cur, h, true
	}
	return nil, 0, false
}

// moveAfterAllocate re-buckets c forward if its new usage crossed
// maxUsage, propagating through successive lists as needed.
func (l *chunkList) moveAfterAllocate(c *chunk) {
	if c.usage() < l.maxUsage {
		return
	}
	l.remove(c)
	l.nextListFor(c).addOrAdvance(c)
}

// addOrAdvance inserts c here if its usage now fits this bucket,
// otherwise keeps pushing it forward.
func (l *chunkList) addOrAdvance(c *chunk) {
	if l.nextList == nil || c.usage() < l.maxUsage {
		l.add(c)
		return
	}
	l.nextList.addOrAdvance(c)
}

// nextListFor returns the list to consider moving c into after growth.
func (l *chunkList) nextListFor(c *chunk) *chunkList {
	if l.nextList != nil {
		return l.nextList
	}
	return l
}

// free releases handle from chunk c, which is presumed to currently
// live in this list, and re-buckets c backward if its usage dropped
// below minUsage. Returns true if c should be destroyed: c is fully
// free (it is then unlinked whatever list it was in), or its usage fell
// below this list's minUsage and there is no lower bucket to fall into.
func (l *chunkList) free(c *chunk, handle uint64) (destroy bool) {
	c.free(handle)
	if c.isFullyFree() {
		// freeBytes == chunkSize is the precondition for destruction
		// no live handle can remain, so there is nothing left to
		// preserve by keeping the chunk bucketed.
		l.remove(c)
		return true
	}
	if c.usage() >= l.minUsage {
		return false
	}
	l.remove(c)
	return l.moveAfterFree(c)
}

// moveAfterFree walks backward through prevList until c's usage fits,
// or reports that c must be destroyed (dropped below the first list's
// minUsage with no predecessor).
func (l *chunkList) moveAfterFree(c *chunk) bool {
	if l.prevList == nil {
		return true
	}
	if c.usage() >= l.prevList.minUsage {
		l.prevList.add(c)
		return false
	}
	return l.prevList.moveAfterFree(c)
}
