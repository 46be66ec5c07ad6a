package opt

import (
	"testing"
	"unsafe"
)

func TestCanSpinBounded(t *testing.T) {
	// The runtime never allows more than a handful of active spins.
	var i int
	for CanSpin(i) {
		DoSpin()
		i++
		if i > 64 {
			t.Fatalf("CanSpin still true after %d iterations", i)
		}
	}
}

func TestCacheLineSize(t *testing.T) {
	if CacheLineSize_ == 0 {
		t.Fatal("CacheLineSize_ is zero")
	}
	if CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("CacheLineSize_ = %d, want a power of two", CacheLineSize_)
	}
	if want := unsafe.Sizeof(uint64(0)); CacheLineSize_ < want {
		t.Fatalf("CacheLineSize_ = %d, smaller than a word", CacheLineSize_)
	}
}
