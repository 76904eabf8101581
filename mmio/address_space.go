// Package mmio gives typed, exclusive access to memory-mapped device frames.
//
// Physical ranges are claimed from an AddressSpace, which refuses overlapping
// claims. A claimed Region is mapped either from /dev/mem or from anonymous
// memory, and Overlay turns it into a Unique handle over a register layout
// built from ReadPure and ReadPureWrite fields.
package mmio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"
)

// PageSize is the size and alignment of a device frame.
const PageSize = 0x1000

var (
	ErrOverlap     = errors.New("range overlaps an existing claim")
	ErrAliased     = errors.New("region already has a live overlay")
	ErrClosed      = errors.New("region closed")
	ErrUnsupported = errors.New("device memory mapping unsupported on this platform")
)

// DefaultDevMem is the device used by Map unless AddressSpace.DevMem is set.
const DefaultDevMem = "/dev/mem"

// Claim names a physical range held by a Region.
type Claim struct {
	Name string
	Base uint64
	Size uint64
}

// End returns the first address after the claim.
func (c Claim) End() uint64 { return c.Base + c.Size }

// AddressSpace tracks which physical ranges are currently mapped so the same
// registers are never reachable through two regions.
type AddressSpace struct {
	// DevMem overrides the device file Map opens.
	DevMem string

	mu     sync.Mutex
	claims []Claim
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{}
}

// Reserve records a claim over [base, base+size). The range must be page
// aligned, non-empty and must not overlap any live claim.
func (a *AddressSpace) Reserve(name string, base, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return fmt.Errorf("mmio: cannot claim zero-size range %s", name)
	}
	if base%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("mmio: range %s [0x%x-0x%x) is not page aligned", name, base, base+size)
	}
	if base+size < base {
		return fmt.Errorf("mmio: range %s at 0x%x wraps the address space", name, base)
	}

	end := base + size
	for _, c := range a.claims {
		if base < c.End() && end > c.Base {
			return fmt.Errorf("mmio: range %s [0x%x-0x%x) overlaps %s [0x%x-0x%x): %w",
				name, base, end, c.Name, c.Base, c.End(), ErrOverlap)
		}
	}

	a.claims = append(a.claims, Claim{Name: name, Base: base, Size: size})
	return nil
}

func (a *AddressSpace) release(base uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, c := range a.claims {
		if c.Base == base {
			a.claims = append(a.claims[:i], a.claims[i+1:]...)
			return
		}
	}
}

// Claims returns a copy of the live claims.
func (a *AddressSpace) Claims() []Claim {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]Claim, len(a.claims))
	copy(result, a.claims)
	return result
}

// Map claims [base, base+size) and maps it from the device memory file.
func (a *AddressSpace) Map(name string, base, size uint64) (*Region, error) {
	path := a.DevMem
	if path == "" {
		path = DefaultDevMem
	}
	return a.mapWith(name, base, size, func() ([]byte, error) {
		return mapDevice(path, base, size)
	})
}

// Anonymous claims [base, base+size) and backs it with zeroed, page aligned
// memory instead of the device. Simulators and tests use it as a frame.
func (a *AddressSpace) Anonymous(name string, base, size uint64) (*Region, error) {
	return a.mapWith(name, base, size, func() ([]byte, error) {
		return mapAnonymous(size)
	})
}

func (a *AddressSpace) mapWith(name string, base, size uint64, mapper func() ([]byte, error)) (*Region, error) {
	if err := a.Reserve(name, base, size); err != nil {
		return nil, err
	}
	mem, err := mapper()
	if err != nil {
		a.release(base)
		return nil, fmt.Errorf("mmio: map %s at 0x%x: %w", name, base, err)
	}
	slog.Debug("mmio: mapped region", "name", name, "base", fmt.Sprintf("0x%x", base), "size", size)
	return &Region{
		Name:  name,
		Base:  base,
		Size:  size,
		mem:   mem,
		space: a,
	}, nil
}

// Region is a mapped, claimed physical range.
//
// The Load and Store methods give device-side access by byte offset. They
// exist for simulators and test harnesses that play the hardware's part;
// drivers go through Overlay.
type Region struct {
	Name string
	Base uint64
	Size uint64

	mem   []byte
	space *AddressSpace

	mu       sync.Mutex
	overlaid bool
	closed   bool
}

func (r *Region) dropOverlay() {
	r.mu.Lock()
	r.overlaid = false
	r.mu.Unlock()
}

// Close unmaps the region and releases its claim. It fails while an overlay
// is live.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if r.overlaid {
		return fmt.Errorf("mmio: close %s: %w", r.Name, ErrAliased)
	}
	r.closed = true

	err := unmap(r.mem)
	r.mem = nil
	r.space.release(r.Base)
	slog.Debug("mmio: unmapped region", "name", r.Name, "base", fmt.Sprintf("0x%x", r.Base))
	if err != nil {
		return fmt.Errorf("mmio: unmap %s: %w", r.Name, err)
	}
	return nil
}

// Contains reports whether addr lies inside the region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

func (r *Region) word(off uint64, width uint64) unsafe.Pointer {
	if off%width != 0 || off+width > uint64(len(r.mem)) {
		panic(fmt.Sprintf("mmio: %s: %d-byte access at offset 0x%x out of range or unaligned", r.Name, width, off))
	}
	return unsafe.Pointer(&r.mem[off])
}

// Load32 reads the 32-bit word at off.
func (r *Region) Load32(off uint64) uint32 {
	return atomic.LoadUint32((*uint32)(r.word(off, 4)))
}

// Store32 writes the 32-bit word at off.
func (r *Region) Store32(off uint64, v uint32) {
	atomic.StoreUint32((*uint32)(r.word(off, 4)), v)
}

// CompareAndSwap32 replaces the word at off with val if it still holds old.
func (r *Region) CompareAndSwap32(off uint64, old, val uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(r.word(off, 4)), old, val)
}

// Load64 reads the 64-bit word at off.
func (r *Region) Load64(off uint64) uint64 {
	return atomic.LoadUint64((*uint64)(r.word(off, 8)))
}

// Store64 writes the 64-bit word at off.
func (r *Region) Store64(off uint64, v uint64) {
	atomic.StoreUint64((*uint64)(r.word(off, 8)), v)
}

// CompareAndSwap64 replaces the 64-bit word at off with val if it still
// holds old.
func (r *Region) CompareAndSwap64(off uint64, old, val uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(r.word(off, 8)), old, val)
}
