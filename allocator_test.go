package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidatePageSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 100 // not a power of two

	err := cfg.Validate()
	if !errors.Is(err, ErrPageSizeNotPowerOfTwo) {
		t.Errorf("Validate() error = %v, want wrapping ErrPageSizeNotPowerOfTwo", err)
	}
}

func TestConfigValidateChunkSizeTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 1 << 20
	cfg.MaxOrder = 14 // 1MiB << 14 vastly exceeds the 1 GiB ceiling

	err := cfg.Validate()
	if !errors.Is(err, ErrChunkSizeTooLarge) {
		t.Errorf("Validate() error = %v, want wrapping ErrChunkSizeTooLarge", err)
	}
}

func TestConfigValidateBadAlignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheLineAlignment = 100 // not a power of two

	err := cfg.Validate()
	if !errors.Is(err, ErrBadAlignment) {
		t.Errorf("Validate() error = %v, want wrapping ErrBadAlignment", err)
	}
}

func TestConfigValidateAccepted(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestChunkSize(t *testing.T) {
	cfg := Config{PageSize: 8192, MaxOrder: 11}
	if got := cfg.ChunkSize(); got != 16<<20 {
		t.Errorf("ChunkSize() = %d, want %d", got, 16<<20)
	}
}

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	al, err := New(Config{
		PageSize:         testPageSize,
		MaxOrder:         testMaxOrder,
		HeapArenaCount:   2,
		DirectArenaCount: 1,
		TinyCacheSize:    64,
		SmallCacheSize:   64,
		NormalCacheSize:  16,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return al
}

func TestAllocateFreeRoundTripThroughFacade(t *testing.T) {
	al := newTestAllocator(t)

	buf, err := al.Allocate(100)
	require.NoError(t, err)
	require.Len(t, buf.Bytes(), 100)
	require.Equal(t, 100, buf.Len())

	al.Free(buf)
}

func TestZeroByteAllocate(t *testing.T) {
	al := newTestAllocator(t)

	buf, err := al.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, 0, buf.Len())
	require.Nil(t, buf.Bytes())

	al.Free(buf) // must not panic despite never touching an arena
}

func TestAllocateNegativeCapacityFails(t *testing.T) {
	al := newTestAllocator(t)
	_, err := al.Allocate(-1)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Errorf("Allocate(-1) error = %v, want ErrRequestTooLarge", err)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	al := newTestAllocator(t)
	buf, err := al.Allocate(64)
	require.NoError(t, err)

	al.Free(buf)

	defer func() {
		if r := recover(); r == nil {
			t.Error("second Free() on the same buffer should panic")
		}
	}()
	al.Free(buf)
}

func TestAllocateHugeThroughFacade(t *testing.T) {
	al := newTestAllocator(t)
	const hugeSize = 17 << 20

	buf, err := al.Allocate(hugeSize)
	require.NoError(t, err)
	require.Len(t, buf.Bytes(), hugeSize)

	al.Free(buf)
}

func TestReallocateCopiesData(t *testing.T) {
	al := newTestAllocator(t)

	buf, err := al.Allocate(32)
	require.NoError(t, err)
	copy(buf.Bytes(), []byte("hello, pooled world"))

	bigger, err := al.Reallocate(buf, 256)
	require.NoError(t, err)
	require.Equal(t, 256, bigger.Len())
	require.Equal(t, []byte("hello, pooled world"), bigger.Bytes()[:len("hello, pooled world")])

	al.Free(bigger)
}

func TestCloseRejectsFurtherAllocations(t *testing.T) {
	al := newTestAllocator(t)
	al.Close()

	_, err := al.Allocate(64)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Allocate() after Close() error = %v, want ErrClosed", err)
	}
}

func TestStatsTracksAllocationsAndFrees(t *testing.T) {
	al, err := New(Config{
		PageSize:           testPageSize,
		MaxOrder:           testMaxOrder,
		HeapArenaCount:     2,
		DirectArenaCount:   1,
		TinyCacheSize:      64,
		SmallCacheSize:     64,
		NormalCacheSize:    16,
		DisableThreadCache: true,
	})
	require.NoError(t, err)

	buf, err := al.Allocate(16)
	require.NoError(t, err)

	snap := al.Stats()
	var total int64
	for _, arenaSnap := range snap.Heap {
		total += arenaSnap.Tiny.Allocations
	}
	require.Equal(t, int64(1), total)

	al.Free(buf)

	snap = al.Stats()
	var frees int64
	for _, arenaSnap := range snap.Heap {
		frees += arenaSnap.Tiny.Frees
	}
	require.Equal(t, int64(1), frees)
}

func TestAcquireCacheRoundRobinsLoad(t *testing.T) {
	al := newTestAllocator(t)

	tc1 := al.AcquireCache()
	defer tc1.Release()
	tc2 := al.AcquireCache()
	defer tc2.Release()

	require.NotEqual(t, tc1.ar, tc2.ar, "two cache acquisitions on a multi-arena pool should spread across arenas")
}
