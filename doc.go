// Package pool implements a two-level pooled byte-buffer allocator.
//
// # Overview
//
// The allocator carves large backing regions ("chunks") into
// page-sized runs using a complete-binary-tree buddy algorithm, and
// further splits individual pages into fixed-size "slab" elements
// tracked by bitmaps. A chunk belongs to exactly one Arena, which owns
// a set of chunks plus per-size-class subpage lists and serialises
// mutation under a single mutex. A per-goroutine ThreadCache shields
// the arena from lock contention on the hot allocate/free path.
//
// # Basic Usage
//
//	a, err := pool.New(pool.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Close()
//
//	buf, err := a.Allocate(1024)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Free(buf)
//
// # Size Classes
//
// Requests are normalised into one of four classes before any
// allocation happens:
//
//   - tiny: multiples of 16 B, [16, 512)
//   - small: powers of two, [512, pageSize)
//   - normal: pageSize .. chunkSize, rounded up to a power of two
//   - huge: > chunkSize, allocated unpooled
//
// # Thread Safety
//
// Allocator is safe for concurrent use. Each arena serialises mutation
// with a single mutex. A ThreadCache is not safe for concurrent use: it
// is a single-consumer magazine bound to one goroutine at a time.
//
// # Performance Characteristics
//
//   - tiny/small allocation: O(1) bitmap scan within a page
//   - normal allocation: O(log N) buddy-tree descent, N = 1<<maxOrder
//   - free: mirrors the allocation path's complexity
//   - cache hit: O(1), no arena lock taken
package pool
