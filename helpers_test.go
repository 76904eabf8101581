package gtimer

import (
	"testing"

	"github.com/tinyrange/gtimer/mmio"
)

// newFrame backs a layout with an anonymous page. The region is returned so
// tests can play the hardware's side.
func newFrame[T any](t *testing.T) (*mmio.Region, *mmio.Unique[T]) {
	t.Helper()

	space := mmio.NewAddressSpace()
	region, err := space.Anonymous(t.Name(), 0, FrameSize)
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	regs, err := mmio.Overlay[T](region)
	if err != nil {
		region.Close()
		t.Fatalf("Overlay: %v", err)
	}
	t.Cleanup(func() {
		regs.Release()
		if err := region.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return region, regs
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", what)
		}
	}()
	fn()
}
