package native

import (
	"strconv"
	"sync/atomic"
)

// ID is an opaque, non-owning token identifying an engine-side object.
// The zero value is Nil and never names a live object.
type ID uintptr

// Nil is the null identity.
const Nil ID = 0

// IsNil returns true for the null identity.
func (id ID) IsNil() bool {
	return id == Nil
}

// String returns the identity as a hex address.
func (id ID) String() string {
	return "0x" + strconv.FormatUint(uint64(id), 16)
}

// Allocator hands out fresh identities for engines that do not have real
// addresses to offer (simulators, tests). It never returns Nil.
type Allocator struct {
	next atomic.Uintptr
}

// NewAllocator creates an allocator whose first identity is base+1.
func NewAllocator(base uintptr) *Allocator {
	a := &Allocator{}
	a.next.Store(base)
	return a
}

// Next returns the next identity.
func (a *Allocator) Next() ID {
	id := a.next.Add(1)
	if id == 0 {
		id = a.next.Add(1)
	}
	return ID(id)
}
