package pool

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		req  int
		want int
	}{
		{"zero", 0, 0},
		{"tiny round up", 15, 16},
		{"tiny exact multiple", 32, 32},
		{"tiny upper boundary", 510, 512},
		{"power of two boundary", 1023, 1024},
		{"just above power of two", 1025, 2048},
		{"exact power of two stays", 2048, 2048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.req, 0)
			if got != tt.want {
				t.Errorf("normalize(%d) = %d, want %d", tt.req, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, req := range []int{0, 1, 15, 16, 17, 511, 512, 513, 8191, 8192, 1 << 20} {
		once := normalize(req, 0)
		twice := normalize(once, 0)
		if once != twice {
			t.Errorf("normalize(normalize(%d)) = %d, want %d", req, twice, once)
		}
		if once < req {
			t.Errorf("normalize(%d) = %d, want >= %d", req, once, req)
		}
	}
}

func TestNormalizeCacheLineAlignment(t *testing.T) {
	got := normalize(100, 64)
	if got != 128 {
		t.Errorf("normalize(100, 64) = %d, want 128", got)
	}
}

func TestClassify(t *testing.T) {
	const pageSize = 8192
	const chunkSize = 8192 << 11

	tests := []struct {
		name string
		cap  int
		want sizeClass
	}{
		{"tiny", 16, classTiny},
		{"tiny upper", 496, classTiny},
		{"small lower", 512, classSmall},
		{"small upper", 4096, classSmall},
		{"normal at page size", pageSize, classNormal},
		{"normal at chunk size", chunkSize, classNormal},
		{"huge", chunkSize + 1, classHuge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.cap, pageSize, chunkSize)
			if got != tt.want {
				t.Errorf("classify(%d) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	yes := []int{1, 2, 4, 8, 1024, 1 << 20}
	no := []int{0, -1, 3, 5, 6, 1023}

	for _, n := range yes {
		if !isPowerOfTwo(n) {
			t.Errorf("isPowerOfTwo(%d) = false, want true", n)
		}
	}
	for _, n := range no {
		if isPowerOfTwo(n) {
			t.Errorf("isPowerOfTwo(%d) = true, want false", n)
		}
	}
}

func TestLog2(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{1, 0}, {2, 1}, {3, 1}, {4, 2}, {8192, 13}, {1 << 20, 20},
	}
	for _, tt := range tests {
		if got := log2(tt.n); got != tt.want {
			t.Errorf("log2(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestSizeClassString(t *testing.T) {
	tests := []struct {
		c    sizeClass
		want string
	}{
		{classTiny, "tiny"},
		{classSmall, "small"},
		{classNormal, "normal"},
		{classHuge, "huge"},
		{sizeClass(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.c, got, tt.want)
		}
	}
}
