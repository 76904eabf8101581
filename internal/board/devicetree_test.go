package board

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tinyrange/gtimer/internal/fdt"
)

func TestDeviceTree(t *testing.T) {
	b, err := Parse([]byte(twoFrames))
	if err != nil {
		t.Fatal(err)
	}
	blob, err := b.DeviceTreeBlob()
	if err != nil {
		t.Fatalf("DeviceTreeBlob: %v", err)
	}
	root, err := fdt.Parse(blob)
	if err != nil {
		t.Fatalf("fdt.Parse: %v", err)
	}

	timer, ok := root.Child("timer@10020000")
	if !ok {
		t.Fatalf("timer node missing: %+v", root)
	}
	if got := timer.Properties["compatible"].AsStrings(); !reflect.DeepEqual(got, []string{"arm,armv7-timer-mem"}) {
		t.Fatalf("compatible = %q", got)
	}
	if got := timer.Properties["clock-frequency"].AsCells(); !reflect.DeepEqual(got, []uint32{24_000_000}) {
		t.Fatalf("clock-frequency = %v", got)
	}
	if len(timer.Children) != 2 {
		t.Fatalf("frames = %d, want 2", len(timer.Children))
	}

	f0, ok := timer.Child("frame@10030000")
	if !ok {
		t.Fatalf("frame 0 missing")
	}
	if got := f0.Properties["reg"].AsCells(); !reflect.DeepEqual(got, []uint32{0, 0x1003_0000, 0, 0x1000, 0, 0x1004_0000, 0, 0x1000}) {
		t.Fatalf("frame 0 reg = %#x", got)
	}
	if got := f0.Properties["interrupts"].AsCells(); !reflect.DeepEqual(got, []uint32{0, 25, 4, 0, 26, 4}) {
		t.Fatalf("frame 0 interrupts = %v", got)
	}

	f3, ok := timer.Child("frame@10050000")
	if !ok {
		t.Fatalf("frame 3 missing")
	}
	if got := f3.Properties["frame-number"].AsCells(); !reflect.DeepEqual(got, []uint32{3}) {
		t.Fatalf("frame 3 number = %v", got)
	}
	if got := f3.Properties["interrupts"].AsCells(); !reflect.DeepEqual(got, []uint32{0, 28, 4}) {
		t.Fatalf("frame 3 interrupts = %v", got)
	}
}

func TestDeviceTreeRejectsPrivateInterrupts(t *testing.T) {
	b := Default()
	b.Frames[0].PhysicalIRQ = 30
	if _, err := b.DeviceTree(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("DeviceTree error = %v, want ErrInvalid", err)
	}

	b = Default()
	b.Frames[0].Virtual = false
	if _, err := b.DeviceTree(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("DeviceTree error = %v, want ErrInvalid", err)
	}
}
