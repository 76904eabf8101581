package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Word is the width of a single register.
type Word interface {
	~uint32 | ~uint64
}

// ReadPure is a register whose read returns its current value and has no
// other effect on the device. It has no write method.
type ReadPure[T Word] struct {
	v T
}

// Read performs one load of the register.
func (f *ReadPure[T]) Read() T { return load(&f.v) }

// ReadPureWrite is a register with a side-effect free read and a plain write.
type ReadPureWrite[T Word] struct {
	v T
}

// Read performs one load of the register.
func (f *ReadPureWrite[T]) Read() T { return load(&f.v) }

// Write performs one store to the register.
func (f *ReadPureWrite[T]) Write(value T) { store(&f.v, value) }

// Atomic accesses are never merged, split or elided by the compiler, which is
// the property device memory needs from a load or store.
func load[T Word](p *T) T {
	if unsafe.Sizeof(*p) == 4 {
		return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(p))))
	}
	return T(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
}

func store[T Word](p *T, value T) {
	if unsafe.Sizeof(*p) == 4 {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(p)), uint32(value))
		return
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(value))
}
