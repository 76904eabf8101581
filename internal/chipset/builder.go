package chipset

import (
	"fmt"
	"sort"
)

type mmioBinding struct {
	region  Region
	handler MmioHandler
}

// Builder registers devices and their regions before creating a Chipset.
type Builder struct {
	devices map[string]Device
	mmio    []mmioBinding
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		devices: make(map[string]Device),
	}
}

// RegisterDevice adds a device and binds its MMIO regions.
func (b *Builder) RegisterDevice(name string, dev Device) error {
	if name == "" {
		return fmt.Errorf("chipset: device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("chipset: device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("chipset: device %q already registered", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("chipset: device %q provided MMIO regions with nil handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.WithMmioRegion(region.Address, region.Size, intercept.Handler); err != nil {
				return fmt.Errorf("chipset: device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	return nil
}

// WithMmioRegion binds handler to [base, base+size).
func (b *Builder) WithMmioRegion(base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region:  Region{Address: base, Size: size},
		handler: handler,
	})
	return nil
}

// Build returns the dispatch tables. The builder can keep being used.
func (b *Builder) Build() *Chipset {
	c := &Chipset{
		names:   make([]string, 0, len(b.devices)),
		devices: make(map[string]Device, len(b.devices)),
		mmio:    append([]mmioBinding(nil), b.mmio...),
	}
	for name, dev := range b.devices {
		c.names = append(c.names, name)
		c.devices[name] = dev
	}
	sort.Strings(c.names)
	sort.Slice(c.mmio, func(i, j int) bool {
		return c.mmio[i].region.Address < c.mmio[j].region.Address
	})
	return c
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}
