package mmio

import (
	"fmt"
	"unsafe"
)

// Unique is the only live handle to a value of type T overlaid on device
// memory. A Unique is not safe for concurrent use; it belongs to one owner.
//
// A sub-field can be lent out with Borrow. Until the borrowed handle is
// released, any use of the parent panics, so no two live handles ever reach
// the same registers.
type Unique[T any] struct {
	ptr      *T
	region   *Region
	parent   lender
	lent     bool
	released bool
}

type lender interface {
	giveBack()
}

// Overlay places T over the start of r and returns the handle that owns it.
// A region carries at most one overlay at a time; a second call before the
// first handle is released fails with ErrAliased.
func Overlay[T any](r *Region) (*Unique[T], error) {
	var zero T
	size := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("mmio: overlay %s: %w", r.Name, ErrClosed)
	}
	if uint64(size) > uint64(len(r.mem)) {
		return nil, fmt.Errorf("mmio: overlay %s: region is 0x%x bytes, type needs 0x%x", r.Name, len(r.mem), size)
	}
	base := unsafe.Pointer(unsafe.SliceData(r.mem))
	if uintptr(base)%align != 0 {
		return nil, fmt.Errorf("mmio: overlay %s: mapping at %p is not %d-byte aligned", r.Name, base, align)
	}
	if r.overlaid {
		return nil, fmt.Errorf("mmio: overlay %s: %w", r.Name, ErrAliased)
	}
	r.overlaid = true

	return &Unique[T]{ptr: (*T)(base), region: r}, nil
}

// Get returns the overlaid value. It panics if the handle was released or a
// field of it is currently borrowed.
func (u *Unique[T]) Get() *T {
	switch {
	case u.released:
		panic("mmio: use of a released pointer")
	case u.lent:
		panic("mmio: use of a pointer while one of its fields is borrowed")
	}
	return u.ptr
}

// Borrow lends the field selected by pick. The parent is unusable until the
// returned handle is released.
func Borrow[T, F any](u *Unique[T], pick func(*T) *F) *Unique[F] {
	outer := u.Get()
	inner := pick(outer)

	start := uintptr(unsafe.Pointer(outer))
	end := start + unsafe.Sizeof(*outer)
	at := uintptr(unsafe.Pointer(inner))
	if at < start || at+unsafe.Sizeof(*inner) > end {
		panic(fmt.Sprintf("mmio: borrowed field at %#x lies outside [%#x, %#x)", at, start, end))
	}

	u.lent = true
	return &Unique[F]{ptr: inner, parent: u}
}

// Release gives up the handle. A borrowed handle returns control to its
// parent; a root handle frees its region for another overlay. Releasing
// twice is a no-op.
func (u *Unique[T]) Release() {
	if u.released {
		return
	}
	if u.lent {
		panic("mmio: release of a pointer while one of its fields is borrowed")
	}
	u.released = true

	if u.parent != nil {
		u.parent.giveBack()
		return
	}
	if u.region != nil {
		u.region.dropOverlay()
	}
}

// Lent reports whether a field of u is currently borrowed.
func (u *Unique[T]) Lent() bool { return u.lent }

func (u *Unique[T]) giveBack() { u.lent = false }
