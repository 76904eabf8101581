package chipset

import (
	"fmt"
	"sort"
)

// Chipset dispatches MMIO accesses to registered devices and drives their
// lifecycle.
type Chipset struct {
	names   []string // sorted
	devices map[string]Device
	mmio    []mmioBinding // sorted by address
}

// Start starts devices in name order.
func (c *Chipset) Start() error {
	return c.each("start", c.names, Device.Start)
}

// Stop stops devices in reverse name order.
func (c *Chipset) Stop() error {
	reversed := make([]string, len(c.names))
	for i, name := range c.names {
		reversed[len(c.names)-1-i] = name
	}
	return c.each("stop", reversed, Device.Stop)
}

// Reset resets every device.
func (c *Chipset) Reset() error {
	return c.each("reset", c.names, Device.Reset)
}

func (c *Chipset) each(op string, names []string, fn func(Device) error) error {
	for _, name := range names {
		if err := fn(c.devices[name]); err != nil {
			return fmt.Errorf("chipset: %s device %q: %w", op, name, err)
		}
	}
	return nil
}

// Device returns the device registered as name.
func (c *Chipset) Device(name string) (Device, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

// Regions lists the bound MMIO regions in address order.
func (c *Chipset) Regions() []Region {
	regions := make([]Region, len(c.mmio))
	for i, b := range c.mmio {
		regions[i] = b.region
	}
	return regions
}

// HandleMMIO dispatches an access to the handler whose region holds all of
// [addr, addr+len(data)).
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	end := addr + uint64(len(data))
	if end < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	// First region ending after addr.
	i := sort.Search(len(c.mmio), func(i int) bool {
		r := c.mmio[i].region
		return r.Address+r.Size > addr
	})
	if i == len(c.mmio) || c.mmio[i].region.Address > addr || c.mmio[i].region.Address+c.mmio[i].region.Size < end {
		return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
	}

	handler := c.mmio[i].handler
	if isWrite {
		return handler.WriteMMIO(addr, data)
	}
	return handler.ReadMMIO(addr, data)
}
