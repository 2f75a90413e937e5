package queue

import "testing"

func TestGetBufferSizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize uint32
		expectCap   int
	}{
		{"256B bucket - exact", 256, 256},
		{"256B bucket - smaller", 30, 256},
		{"1KB bucket - exact", 1024, 1024},
		{"1KB bucket - smaller", 800, 1024},
		{"4KB bucket - exact", 4096, 4096},
		{"16KB bucket - exact", 16384, 16384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetBuffer(tt.requestSize)
			if len(buf) != int(tt.requestSize) {
				t.Errorf("GetBuffer(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("GetBuffer(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			PutBuffer(buf)
		})
	}
}

func TestBufferPoolReuse(t *testing.T) {
	buf1 := GetBuffer(256)
	ptr1 := &buf1[0]
	PutBuffer(buf1)

	buf2 := GetBuffer(256)
	ptr2 := &buf2[0]
	PutBuffer(buf2)

	if ptr1 == ptr2 {
		t.Log("buffer was successfully reused from pool")
	} else {
		t.Log("buffer was not reused (sync.Pool GC behavior)")
	}
}

func TestGetBufferOversizeFallsBackToMake(t *testing.T) {
	buf := GetBuffer(64 * 1024)
	if len(buf) != 64*1024 {
		t.Fatalf("expected len 64KB, got %d", len(buf))
	}
	PutBuffer(buf) // must not panic on a non-pooled capacity
}

func BenchmarkGetBuffer256B(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(256)
		PutBuffer(buf)
	}
}

func BenchmarkGetBuffer4KB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(4096)
		PutBuffer(buf)
	}
}
