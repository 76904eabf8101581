// Package chipset routes memory-mapped accesses and interrupt lines between
// simulated peripherals and whoever drives them.
package chipset

// MmioHandler serves reads and writes to a device's frames. addr is a
// physical address inside one of the device's regions.
type MmioHandler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// Region is one physical range served by a handler.
type Region struct {
	Address uint64
	Size    uint64
}

// MmioIntercept describes the regions a device serves and its handler.
type MmioIntercept struct {
	Regions []Region
	Handler MmioHandler
}

// LineInterrupt models an interrupt line with level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

type noopLineInterrupt struct{}

func (noopLineInterrupt) SetLevel(bool)   {}
func (noopLineInterrupt) PulseInterrupt() {}

// LineInterruptDetached returns a LineInterrupt that drops all signals.
func LineInterruptDetached() LineInterrupt {
	return noopLineInterrupt{}
}

// LineInterruptFromFunc adapts a level function to LineInterrupt.
func LineInterruptFromFunc(fn func(bool)) LineInterrupt {
	return lineInterruptFunc(fn)
}

type lineInterruptFunc func(bool)

func (f lineInterruptFunc) SetLevel(level bool) {
	if f != nil {
		f(level)
	}
}

func (f lineInterruptFunc) PulseInterrupt() {
	if f != nil {
		f(true)
		f(false)
	}
}

// ChangeDeviceState exposes lifecycle hooks.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	Reset() error
}

// Device is a simulated peripheral that can sit on the chipset.
type Device interface {
	ChangeDeviceState

	SupportsMmio() *MmioIntercept
}
