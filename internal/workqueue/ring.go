package workqueue

import (
	"sync/atomic"
)

// Ring is a bounded multi-producer, single-consumer queue.
//
// Each slot carries a sequence number. A producer claims position p by
// advancing tail with a CAS once slot p's sequence equals p, writes the value,
// and publishes it by storing p+1. The consumer reads slot head once its
// sequence equals head+1, clears it, and recycles it by storing
// head+capacity. No producer ever waits on another producer or the consumer.
type Ring[T any] struct {
	_    [64]byte
	tail atomic.Uint64
	_    [56]byte
	head atomic.Uint64
	_    [56]byte

	mask  uint64
	slots []ringSlot[T]
}

type ringSlot[T any] struct {
	seq   atomic.Uint64
	value T
}

// NewRing creates a ring with capacity rounded up to a power of two (min 2).
func NewRing[T any](capacity int) *Ring[T] {
	n := uint64(2)
	for n < uint64(capacity) {
		n <<= 1
	}
	r := &Ring[T]{
		mask:  n - 1,
		slots: make([]ringSlot[T], n),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Len returns an approximate count of queued values.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Push appends v. Safe for concurrent producers. Returns false if full.
func (r *Ring[T]) Push(v T) bool {
	pos := r.tail.Load()
	for {
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				slot.value = v
				slot.seq.Store(pos + 1)
				return true
			}
			pos = r.tail.Load()
		case dif < 0:
			return false
		default:
			pos = r.tail.Load()
		}
	}
}

// Pop removes the oldest value. Only one goroutine may call Pop at a time.
// Returns false if the ring is empty or the next slot is not yet published.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	pos := r.head.Load()
	slot := &r.slots[pos&r.mask]
	if int64(slot.seq.Load())-int64(pos+1) < 0 {
		return zero, false
	}
	v := slot.value
	slot.value = zero
	r.head.Store(pos + 1)
	slot.seq.Store(pos + r.mask + 1)
	return v, true
}
