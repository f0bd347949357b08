package pool

import "testing"

func newTestArena() *arena {
	return newArena(HeapProvider{}, testPageSize, testPageShifts, testMaxOrder)
}

func TestArenaHeadForRouting(t *testing.T) {
	a := newTestArena()

	if h := a.headFor(16); h != a.tinyHeads[0] {
		t.Error("headFor(16) did not route to the first tiny head")
	}
	if h := a.headFor(496); h != a.tinyHeads[len(a.tinyHeads)-1] {
		t.Error("headFor(496) did not route to the last tiny head")
	}
	if h := a.headFor(512); h != a.smallHeads[0] {
		t.Error("headFor(512) did not route to the first small head")
	}
	if h := a.headFor(a.pageSize); h != nil {
		t.Error("headFor(pageSize) should return nil (not tiny/small)")
	}
}

func TestArenaAllocateDispatch(t *testing.T) {
	a := newTestArena()

	_, h, err := a.allocate(16)
	if err != nil {
		t.Fatalf("allocate(16) error: %v", err)
	}
	if !isSubpageHandle(h) {
		t.Error("allocate(16) should return a subpage handle")
	}

	_, h2, err := a.allocate(a.pageSize)
	if err != nil {
		t.Fatalf("allocate(pageSize) error: %v", err)
	}
	if isSubpageHandle(h2) {
		t.Error("allocate(pageSize) should return a run handle")
	}
}

func TestArenaAllocateSubpageReusesOpenSlab(t *testing.T) {
	a := newTestArena()

	_, h1, err := a.allocate(16)
	if err != nil {
		t.Fatalf("first allocate(16) error: %v", err)
	}

	_, h2, err := a.allocate(16)
	if err != nil {
		t.Fatalf("second allocate(16) error: %v", err)
	}

	bm1, page1 := unpackHandle(h1)
	bm2, page2 := unpackHandle(h2)
	if page1 != page2 {
		t.Error("consecutive tiny allocations should share the open slab's page")
	}
	if bm1 == bm2 {
		t.Error("consecutive tiny allocations returned the same bitmap slot")
	}
}

func TestArenaAllocateSubpageExactlyOnePageConsumed(t *testing.T) {
	a := newTestArena()
	c, _, err := a.allocate(16)
	if err != nil {
		t.Fatalf("allocate(16) error: %v", err)
	}
	if c.freeBytes != c.chunkSize-a.pageSize {
		t.Errorf("freeBytes after first tiny allocation = %d, want %d", c.freeBytes, c.chunkSize-a.pageSize)
	}
}

func TestArenaFreeReturnsPageToTree(t *testing.T) {
	a := newTestArena()
	c, h, err := a.allocate(a.pageSize)
	if err != nil {
		t.Fatalf("allocate(pageSize) error: %v", err)
	}
	a.free(c, h, classNormal)
	if !c.isFullyFree() {
		t.Error("chunk should be fully free after releasing its only handle")
	}
}

// TestAllocateHugeBypassesPooling checks that a request larger than
// chunkSize takes the unpooled path and frees by releasing the whole
// backing region.
func TestAllocateHugeBypassesPooling(t *testing.T) {
	a := newTestArena()
	const hugeSize = 17 << 20 // 17 MiB > 16 MiB chunkSize

	c, h, err := a.allocateHuge(hugeSize)
	if err != nil {
		t.Fatalf("allocateHuge(%d) error: %v", hugeSize, err)
	}
	if !c.unpooled {
		t.Error("allocateHuge should return an unpooled chunk")
	}
	if len(c.region.bytes) < hugeSize {
		t.Errorf("unpooled region is %d bytes, want at least %d", len(c.region.bytes), hugeSize)
	}

	a.free(c, h, classHuge) // must not panic
}

func TestLeastLoadedArena(t *testing.T) {
	pool := []*arena{newTestArena(), newTestArena(), newTestArena()}
	pool[1].threadRegistrations.Add(5)
	pool[2].threadRegistrations.Add(2)

	if got := leastLoadedArena(pool); got != pool[0] {
		t.Error("leastLoadedArena did not pick the arena with zero registrations")
	}
}
