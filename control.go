package gtimer

import (
	"fmt"

	"github.com/tinyrange/gtimer/mmio"
)

// Control drives a CNTControlBase frame: the system counter itself.
type Control struct {
	regs *mmio.Unique[CntControlBase]
}

// NewControl takes ownership of regs.
func NewControl(regs *mmio.Unique[CntControlBase]) *Control {
	return &Control{regs: regs}
}

// Release gives the frame back.
func (c *Control) Release() { c.regs.Release() }

// SetEnable starts or stops the system counter, leaving the other CNTCR bits
// as they were.
func (c *Control) SetEnable(enable bool) {
	r := c.regs.Get()
	r.cntcr.Write(r.cntcr.Read().Set(CntCrEN, enable))
}

// Enabled reports whether the system counter is running.
func (c *Control) Enabled() bool {
	return c.regs.Get().cntcr.Read().Has(CntCrEN)
}

// SetHaltOnDebug controls whether a debug halt request stops the counter.
func (c *Control) SetHaltOnDebug(halt bool) {
	r := c.regs.Get()
	r.cntcr.Write(r.cntcr.Read().Set(CntCrHDBG, halt))
}

// HaltedOnDebug reports whether the counter is currently halted for debug.
func (c *Control) HaltedOnDebug() bool {
	return c.regs.Get().cntsr.Read().Has(CntSrHDBG)
}

// RequestFrequency selects entry index of the frequency modes table.
func (c *Control) RequestFrequency(index int) {
	r := c.regs.Get()
	r.cntcr.Write(r.cntcr.Read().WithFCReq(index))
}

// FrequencyIndex returns the frequency modes table entry the counter is
// currently running from.
func (c *Control) FrequencyIndex() int {
	return c.regs.Get().cntsr.Read().FCAck()
}

// Count returns the counter value.
func (c *Control) Count() uint64 {
	return c.regs.Get().cntcv.Read()
}

// SetCount writes the counter value.
func (c *Control) SetCount(count uint64) {
	c.regs.Get().cntcv.Write(count)
}

// ScalingImplemented reports whether the counter supports scaling.
func (c *Control) ScalingImplemented() bool {
	return c.regs.Get().cntid.Read().ScalingImplemented()
}

// Scale returns the scale register.
func (c *Control) Scale() uint32 {
	return c.regs.Get().cntscr.Read()
}

// EnableScaling writes scale and then sets SCEN. The two writes are separate
// transactions.
func (c *Control) EnableScaling(scale uint32) {
	r := c.regs.Get()
	r.cntscr.Write(scale)
	r.cntcr.Write(r.cntcr.Read() | CntCrSCEN)
}

// DisableScaling clears SCEN and then zeroes the scale register.
func (c *Control) DisableScaling() {
	r := c.regs.Get()
	r.cntcr.Write(r.cntcr.Read() &^ CntCrSCEN)
	r.cntscr.Write(0)
}

// BaseFrequency returns the base frequency of the counter in Hz, which is
// entry 0 of the frequency modes table.
func (c *Control) BaseFrequency() uint32 {
	return c.regs.Get().cntfid[0].Read()
}

// FrequencyMode returns the frequency in Hz of table entry index. The entry
// is absent when it reads as zero.
func (c *Control) FrequencyMode(index int) (uint32, bool) {
	checkIndex("frequency mode", index, NumFrequencyModes)
	frequency := c.regs.Get().cntfid[index].Read()
	if frequency == 0 {
		return 0, false
	}
	return frequency, true
}

// SetFrequencyMode writes table entry index. Whether an entry is writable is
// implementation defined.
func (c *Control) SetFrequencyMode(index int, frequency uint32) {
	checkIndex("frequency mode", index, NumFrequencyModes)
	c.regs.Get().cntfid[index].Write(frequency)
}

// Identification reads the frame's ID registers.
func (c *Control) Identification() Identification {
	return c.regs.Get().counterID.read()
}

// Reader drives a CNTReadBase frame, the read-only view of the counter.
type Reader struct {
	regs *mmio.Unique[CntReadBase]
}

// NewReader takes ownership of regs.
func NewReader(regs *mmio.Unique[CntReadBase]) *Reader {
	return &Reader{regs: regs}
}

// Release gives the frame back.
func (r *Reader) Release() { r.regs.Release() }

// Count returns the counter value.
func (r *Reader) Count() uint64 {
	return r.regs.Get().cntcv.Read()
}

// Identification reads the frame's ID registers.
func (r *Reader) Identification() Identification {
	return r.regs.Get().counterID.read()
}

// checkIndex panics when index is outside a table of n architecturally fixed
// entries.
func checkIndex(table string, index, n int) {
	if index < 0 || index >= n {
		panic(fmt.Sprintf("gtimer: %s index %d out of range [0,%d)", table, index, n))
	}
}
