// Package ring provides a single-producer, single-consumer ring used to
// hand events from interrupt context to foreground code. The producer
// side never blocks and never allocates; overflow is reported to the
// caller so it can be drop-counted.
package ring

import "sync/atomic"

// Ring is an SPSC ring of T. Exactly one goroutine (or ISR) may call
// Put, and exactly one may call Get.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)
}

// New creates a ring with the given capacity, which must be a power of
// two >= 2. It panics otherwise: the capacity is a compile-time style
// decision, not runtime input.
func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("ring: size must be power of two >= 2")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint32(size - 1),
	}
}

// Available reports how many elements can be read.
func (r *Ring[T]) Available() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Space reports how many elements can be written.
func (r *Ring[T]) Space() int {
	return len(r.buf) - r.Available()
}

// Put appends v and reports success. It returns false when the ring is
// full; the element is dropped and the producer must account for it.
func (r *Ring[T]) Put(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	if wr-rd >= uint32(len(r.buf)) {
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1)
	return true
}

// Get removes and returns the oldest element, if any.
func (r *Ring[T]) Get() (v T, ok bool) {
	rd := r.rd.Load()
	if r.wr.Load() == rd {
		return v, false
	}
	v = r.buf[rd&r.mask]
	r.rd.Store(rd + 1)
	return v, true
}
