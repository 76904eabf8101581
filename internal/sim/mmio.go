package sim

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/gtimer"
	"github.com/tinyrange/gtimer/internal/chipset"
	"github.com/tinyrange/gtimer/mmio"
)

type window struct {
	kind   frameKind
	index  int // frame number for kindBase and kindEL0
	region *mmio.Region
}

func (d *Device) windows() []window {
	ws := []window{{kind: kindControl, region: d.frames.Control}}
	if d.frames.Read != nil {
		ws = append(ws, window{kind: kindRead, region: d.frames.Read})
	}
	ws = append(ws, window{kind: kindCtl, region: d.frames.Ctl})
	for _, f := range d.cnts {
		ws = append(ws, window{kind: kindBase, index: f.index, region: f.base})
		if f.el0 != nil {
			ws = append(ws, window{kind: kindEL0, index: f.index, region: f.el0})
		}
	}
	return ws
}

// SupportsMmio implements chipset.Device.
func (d *Device) SupportsMmio() *chipset.MmioIntercept {
	ws := d.windows()
	regions := make([]chipset.Region, 0, len(ws))
	for _, w := range ws {
		regions = append(regions, chipset.Region{Address: w.region.Base, Size: w.region.Size})
	}
	return &chipset.MmioIntercept{Regions: regions, Handler: d}
}

func (d *Device) lookup(addr uint64, size int) (window, uint64, error) {
	if size != 4 && size != 8 {
		return window{}, 0, fmt.Errorf("sim: invalid access size %d at 0x%x", size, addr)
	}
	for _, w := range d.windows() {
		if w.region.Contains(addr) {
			off := addr - w.region.Base
			if off%uint64(size) != 0 {
				return window{}, 0, fmt.Errorf("sim: unaligned %d-byte access at 0x%x", size, addr)
			}
			return w, off, nil
		}
	}
	return window{}, 0, fmt.Errorf("sim: address 0x%x outside the timer frames", addr)
}

// ReadMMIO implements chipset.MmioHandler. Registers the frame's access
// controls hide read as zero.
func (d *Device) ReadMMIO(addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, off, err := d.lookup(addr, len(data))
	if err != nil {
		return err
	}
	d.pollLocked()

	if !d.permittedLocked(w, off) {
		clear(data)
		return nil
	}
	if len(data) == 8 {
		binary.LittleEndian.PutUint64(data, w.region.Load64(off))
	} else {
		binary.LittleEndian.PutUint32(data, w.region.Load32(off))
	}
	return nil
}

// WriteMMIO implements chipset.MmioHandler. Writes to read-only or hidden
// registers are ignored.
func (d *Device) WriteMMIO(addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, off, err := d.lookup(addr, len(data))
	if err != nil {
		return err
	}
	d.pollLocked()

	if !isWritable(w.kind, off, uint64(len(data))) || !d.permittedLocked(w, off) {
		slog.Debug("sim: ignored write", "frame", w.kind, "index", w.index, "offset", fmt.Sprintf("0x%x", off))
		return nil
	}
	switch {
	case d.isTimerValue(w, off):
		d.writeTimerValueLocked(w, off, binary.LittleEndian.Uint32(data))
	case len(data) == 8:
		w.region.Store64(off, binary.LittleEndian.Uint64(data))
	default:
		w.region.Store32(off, binary.LittleEndian.Uint32(data))
	}
	d.syncControlLocked()
	d.syncFramesLocked()
	return nil
}

func (d *Device) isTimerValue(w window, off uint64) bool {
	if w.kind != kindBase && w.kind != kindEL0 {
		return false
	}
	return off == regCNTP+timerTVAL || off == regCNTV+timerTVAL
}

// writeTimerValueLocked sets CVAL to the timer's count plus the signed
// value, the way a TVAL write does in hardware. Writing CVAL directly keeps
// a TVAL equal to the one last published from going unnoticed.
func (d *Device) writeTimerValueLocked(w window, off uint64, tval uint32) {
	f := d.frameByIndex(w.index)
	for _, c := range f.timers {
		if c.offset+timerTVAL != off {
			continue
		}
		now := d.count
		if c.virtual {
			now -= d.frames.Ctl.Load64(regCNTVOFF + 8*uint64(f.index))
		}
		cval := now + uint64(int64(int32(tval)))
		f.base.Store64(c.offset+timerCVAL, cval)
		if f.el0 != nil {
			f.el0.Store64(c.offset+timerCVAL, cval)
		}
	}
}

// permittedLocked applies CNTACR to a CNTBase frame and CNTEL0ACR to a
// CNTEL0Base frame.
func (d *Device) permittedLocked(w window, off uint64) bool {
	switch w.kind {
	case kindBase:
		acr := gtimer.CntAcr(d.frames.Ctl.Load32(regCNTACR + 4*uint64(w.index)))
		switch {
		case off < regCNTVCT:
			return acr.Has(gtimer.CntAcrRPCT)
		case off < regFrameFRQ:
			return acr.Has(gtimer.CntAcrRVCT)
		case off < regCNTEL0ACR:
			return acr.Has(gtimer.CntAcrRFRQ)
		case off < regFrameVOFF:
			return true
		case off < regCNTP:
			return acr.Has(gtimer.CntAcrRVOFF)
		case off < regCNTV:
			return acr.Has(gtimer.CntAcrRWPT)
		case off < regCNTV+0x10:
			return acr.Has(gtimer.CntAcrRWVT)
		}
	case kindEL0:
		base := d.frameByIndex(w.index).base
		acr := gtimer.CntEl0Acr(base.Load32(regCNTEL0ACR))
		switch {
		case off < regCNTVCT:
			return acr.Has(gtimer.CntEl0AcrEL0PCTEN)
		case off < regFrameFRQ:
			return acr.Has(gtimer.CntEl0AcrEL0VCTEN)
		case off < regCNTEL0ACR:
			return acr.Has(gtimer.CntEl0AcrEL0PCTEN) || acr.Has(gtimer.CntEl0AcrEL0VCTEN)
		case off < regCNTP:
			return false
		case off < regCNTV:
			return acr.Has(gtimer.CntEl0AcrEL0PTEN)
		case off < regCNTV+0x10:
			return acr.Has(gtimer.CntEl0AcrEL0VTEN)
		}
	}
	return true
}

func (d *Device) frameByIndex(index int) *frame {
	for _, f := range d.cnts {
		if f.index == index {
			return f
		}
	}
	return nil
}

var _ chipset.MmioHandler = (*Device)(nil)
