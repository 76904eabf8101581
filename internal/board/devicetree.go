package board

import (
	"fmt"

	"github.com/tinyrange/gtimer/internal/fdt"
	"github.com/tinyrange/gtimer/mmio"
)

// GIC interrupt specifier values
const (
	gicSPI         = 0
	gicLevelHigh   = 4
	gicFirstSPI    = 32
	timerMemCompat = "arm,armv7-timer-mem"
)

// DeviceTree describes the memory-mapped timer as an "arm,armv7-timer-mem"
// node. The parent is assumed to use two address and two size cells;
// interrupt numbers become GIC SPIs.
func (b *Board) DeviceTree() (fdt.Node, error) {
	node := fdt.Node{
		Name: fmt.Sprintf("timer@%x", b.Ctl),
		Properties: map[string]fdt.Property{
			"compatible":     fdt.Strings(timerMemCompat),
			"reg":            fdt.Cells64(b.Ctl, mmio.PageSize),
			"#address-cells": fdt.Cells(2),
			"#size-cells":    fdt.Cells(2),
			"ranges":         fdt.Flag(),
		},
	}
	if b.Frequency != 0 {
		node.Properties["clock-frequency"] = fdt.Cells(b.Frequency)
	}

	for _, f := range b.Frames {
		reg := []uint64{f.Base, mmio.PageSize}
		if f.EL0 != 0 {
			reg = append(reg, f.EL0, mmio.PageSize)
		}
		frame := fdt.Node{
			Name: fmt.Sprintf("frame@%x", f.Base),
			Properties: map[string]fdt.Property{
				"frame-number": fdt.Cells(uint32(f.Index)),
				"reg":          fdt.Cells64(reg...),
			},
		}

		var irqs []uint32
		for _, irq := range []uint32{f.PhysicalIRQ, f.VirtualIRQ} {
			if irq == 0 {
				break
			}
			if irq < gicFirstSPI {
				return fdt.Node{}, fmt.Errorf("%w: frame %d: interrupt %d is not a shared peripheral interrupt", ErrInvalid, f.Index, irq)
			}
			irqs = append(irqs, gicSPI, irq-gicFirstSPI, gicLevelHigh)
		}
		if !f.Virtual && f.VirtualIRQ != 0 {
			return fdt.Node{}, fmt.Errorf("%w: frame %d has a virtual interrupt but no virtual timer", ErrInvalid, f.Index)
		}
		if len(irqs) > 0 {
			frame.Properties["interrupts"] = fdt.Cells(irqs...)
		}
		node.Children = append(node.Children, frame)
	}
	return node, nil
}

// DeviceTreeBlob wraps DeviceTree in a root node and serializes it.
func (b *Board) DeviceTreeBlob() ([]byte, error) {
	timer, err := b.DeviceTree()
	if err != nil {
		return nil, err
	}
	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(2),
			"#size-cells":    fdt.Cells(2),
			"model":          fdt.Strings(b.Name),
		},
		Children: []fdt.Node{timer},
	}
	return fdt.Build(root)
}
