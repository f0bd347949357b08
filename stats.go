package pool

// ClassCounts holds monotonically increasing allocate/free counters
// for one size class, read without holding the arena mutex.
type ClassCounts struct {
	Allocations int64
	Frees       int64
}

// ArenaSnapshot is one arena's best-effort statistics snapshot.
type ArenaSnapshot struct {
	Tiny, Small, Normal, Huge ClassCounts

	// ActiveBytes sums chunkSize-freeBytes across every pooled chunk
	// currently in the arena's chunk lists; PooledBytes sums chunkSize
	// across the same chunks. Unpooled huge chunks are not counted.
	ActiveBytes int64
	PooledBytes int64
}

// Snapshot is the full facade-level statistics snapshot.
type Snapshot struct {
	Heap   []ArenaSnapshot
	Direct []ArenaSnapshot
}

func snapshotArenas(arenas []*arena) []ArenaSnapshot {
	out := make([]ArenaSnapshot, len(arenas))
	for i, a := range arenas {
		out[i] = a.snapshot()
	}
	return out
}

func (a *arena) snapshot() ArenaSnapshot {
	s := ArenaSnapshot{
		Tiny:   ClassCounts{a.stats.allocsTiny.Load(), a.stats.freesTiny.Load()},
		Small:  ClassCounts{a.stats.allocsSmall.Load(), a.stats.freesSmall.Load()},
		Normal: ClassCounts{a.stats.allocsNormal.Load(), a.stats.freesNormal.Load()},
		Huge:   ClassCounts{a.stats.allocsHuge.Load(), a.stats.freesHuge.Load()},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range []*chunkList{a.qInit, a.q000, a.q025, a.q050, a.q075, a.q100} {
		for c := l.head; c != nil; c = c.nextChunk {
			s.PooledBytes += int64(c.chunkSize)
			s.ActiveBytes += int64(c.chunkSize - c.freeBytes)
		}
	}
	return s
}
