package pool

import "math/bits"

// subpage carves one leaf page of a chunk into maxNumElems equal-sized
// elements, tracking free/used state with a bitmap.
//
// Membership in its arena class's doubly linked head list is intrusive
// (prev/next pointers owned by the arena, no reference counting). A
// degenerate subpage with
// next == prev == itself acts as the list's head sentinel and is
// never allocated from directly.
type subpage struct {
	prev, next *subpage
	head       *subpage // class head sentinel this subpage belongs to, fixed for its lifetime

	chunk  *chunk
	pageID uint32 // memoryMapIdx of the leaf page this subpage slabs

	elemSize     int
	maxNumElems  int
	numAvail     int
	nextAvail    int // cached free index, or -1
	bitmapLength int
	bitmap       []uint64 // sized for the smallest tiny class; only [0:bitmapLength) is live

	doNotDestroy bool
}

// newSubpageHead returns a degenerate subpage acting as the empty-list
// sentinel for one size class.
func newSubpageHead() *subpage {
	h := &subpage{}
	h.prev, h.next = h, h
	return h
}

// maxTinyBitmapWords is the bitmap length needed for the smallest
// element class (16 B) in a page of pageSize bytes: pageSize/16/64
// words, rounded up.
func maxTinyBitmapWords(pageSize int) int {
	maxElems := pageSize / 16
	return (maxElems + 63) / 64
}

// init (re)initialises a subpage to slab pageID of the owning chunk
// into maxNumElems elements of elemSize bytes, and links it in just
// after head. Reuses the bitmap backing array across reinitialisation
// to avoid reallocating on every new slab of the same chunk leaf.
func (s *subpage) init(c *chunk, head *subpage, pageID uint32, pageSize, elemSize int) {
	s.chunk = c
	s.head = head
	s.pageID = pageID
	s.elemSize = elemSize
	s.maxNumElems = pageSize / elemSize
	s.numAvail = s.maxNumElems
	s.nextAvail = 0
	s.bitmapLength = (s.maxNumElems + 63) / 64
	if s.bitmap == nil {
		s.bitmap = make([]uint64, maxTinyBitmapWords(pageSize))
	}
	for i := 0; i < s.bitmapLength; i++ {
		s.bitmap[i] = 0
	}
	s.doNotDestroy = true
	s.addToPool(head)
}

// allocate returns the index of a free element and marks it used, or
// (0, false) if the subpage has no free elements or has already been
// torn down.
func (s *subpage) allocate() (uint32, bool) {
	if s.numAvail == 0 || !s.doNotDestroy {
		return 0, false
	}
	idx := s.nextFreeIndex()
	if idx < 0 {
		return 0, false
	}
	s.setBit(idx)
	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return uint32(idx), true
}

// free clears bitmapIdx's bit. It returns false iff the subpage has
// become fully free AND another subpage of this class remains in the
// list; the caller (chunk) must then unlink and destroy this subpage
// so its page can return to the buddy tree. It returns true in every
// other case, including the intentional "leave the sole empty subpage
// in place" behaviour below.
func (s *subpage) free(bitmapIdx uint32) bool {
	wasFull := s.numAvail == 0
	s.clearBit(int(bitmapIdx))
	s.nextAvail = int(bitmapIdx)
	if wasFull {
		s.addToPool(s.head)
	}
	s.numAvail++
	if s.numAvail != s.maxNumElems {
		return true
	}
	if s.head.next == s && s.next == s.head {
		// sole member of the class list; keep it around. Avoids
		// thrashing at the cost of one permanently-idle page per class.
		return true
	}
	s.removeFromPool()
	s.doNotDestroy = false
	return false
}

// nextFreeIndex returns a free element index without marking it used,
// or -1 if none remain. nextAvail >= 0 is a one-shot cache that this
// call consumes (resetting it to -1); otherwise this scans the bitmap
// for the first word with an unset bit, LSB to MSB.
func (s *subpage) nextFreeIndex() int {
	if s.nextAvail >= 0 {
		idx := s.nextAvail
		s.nextAvail = -1
		return idx
	}
	for wordIdx := 0; wordIdx < s.bitmapLength; wordIdx++ {
		word := s.bitmap[wordIdx]
		if ^word == 0 {
			continue
		}
		baseVal := wordIdx << 6
		bitPos := bits.TrailingZeros64(^word)
		idx := baseVal | bitPos
		if idx >= s.maxNumElems {
			return -1
		}
		return idx
	}
	return -1
}

func (s *subpage) setBit(idx int) {
	s.bitmap[idx>>6] |= uint64(1) << uint(idx&63)
}

func (s *subpage) clearBit(idx int) {
	s.bitmap[idx>>6] &^= uint64(1) << uint(idx&63)
}

func (s *subpage) isAllocated(idx int) bool {
	return s.bitmap[idx>>6]&(uint64(1)<<uint(idx&63)) != 0
}

// addToPool splices s in just after head.
func (s *subpage) addToPool(head *subpage) {
	s.prev = head
	s.next = head.next
	head.next.prev = s
	head.next = s
}

// removeFromPool splices s out of whatever list it is currently in.
func (s *subpage) removeFromPool() {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}

// popcount returns the number of allocated elements, used by tests to
// verify that numAvail == maxNumElems - popcount(bitmap).
func (s *subpage) popcount() int {
	n := 0
	for i := 0; i < s.bitmapLength; i++ {
		n += bits.OnesCount64(s.bitmap[i])
	}
	return n
}
