package ring

import "testing"

func TestOrderAcrossWrap(t *testing.T) {
	r := New[int](8)

	// Run well past the capacity so the indices wrap several times.
	next := 0
	for produced := 0; produced < 100; {
		for r.Put(produced) {
			produced++
		}
		for {
			v, ok := r.Get()
			if !ok {
				break
			}
			if v != next {
				t.Fatalf("got %d, want %d", v, next)
			}
			next++
		}
	}
	if next != 100 {
		t.Fatalf("drained %d, want 100", next)
	}
}

func TestPutFailsWhenFull(t *testing.T) {
	r := New[byte](4)
	for i := 0; i < 4; i++ {
		if !r.Put(byte(i)) {
			t.Fatalf("put %d failed with space left", i)
		}
	}
	if r.Put(99) {
		t.Fatal("put succeeded on a full ring")
	}
	if r.Space() != 0 || r.Available() != 4 {
		t.Fatalf("space=%d available=%d", r.Space(), r.Available())
	}
	if v, ok := r.Get(); !ok || v != 0 {
		t.Fatalf("get: %d %v", v, ok)
	}
	if !r.Put(99) {
		t.Fatal("put failed after drain")
	}
}

func TestGetOnEmpty(t *testing.T) {
	r := New[int](2)
	if _, ok := r.Get(); ok {
		t.Fatal("get succeeded on empty ring")
	}
}

func TestNewPanicsOnBadSize(t *testing.T) {
	for _, size := range []int{0, 1, 3, 12} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("size %d: no panic", size)
				}
			}()
			New[int](size)
		}()
	}
}
