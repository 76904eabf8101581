package gtimer

import "github.com/tinyrange/gtimer/mmio"

// Ctl drives a CNTCTLBase frame, which configures the CNTBase<n> frames.
type Ctl struct {
	regs *mmio.Unique[CntCtlBase]
}

// NewCtl takes ownership of regs.
func NewCtl(regs *mmio.Unique[CntCtlBase]) *Ctl {
	return &Ctl{regs: regs}
}

// Release gives the frame back.
func (c *Ctl) Release() { c.regs.Release() }

// Frequency returns the counter frequency in Hz.
func (c *Ctl) Frequency() uint32 {
	return c.regs.Get().cntfrq.Read()
}

// SetFrequency sets the counter frequency in Hz reported to software. It does
// not change the rate of the counter.
func (c *Ctl) SetFrequency(frequency uint32) {
	c.regs.Get().cntfrq.Write(frequency)
}

// NonSecureAccess reports whether frame index is accessible to Non-secure
// accesses.
func (c *Ctl) NonSecureAccess(index int) bool {
	checkIndex("non-secure access", index, NumFrames)
	return c.regs.Get().cntnsar.Read()&(1<<index) != 0
}

// SetNonSecureAccess grants or removes Non-secure access to frames
// CNTBase<index> and CNTEL0Base<index>.
func (c *Ctl) SetNonSecureAccess(index int, enable bool) {
	checkIndex("non-secure access", index, NumFrames)
	r := c.regs.Get()
	cntnsar := r.cntnsar.Read()
	if enable {
		cntnsar |= 1 << index
	} else {
		cntnsar &^= 1 << index
	}
	r.cntnsar.Write(cntnsar)
}

// Features returns what frame index implements. CNTTIDR is read as eight
// packed 8-bit fields, one per frame; the register is 32 bits wide, so
// frames 4 to 7 always report no features.
func (c *Ctl) Features(index int) Features {
	checkIndex("features", index, NumFrames)
	cnttidr := uint64(c.regs.Get().cnttidr.Read())
	return featuresFromBits(uint8(cnttidr >> (8 * index)))
}

// AccessControl returns the top-level access controls of frame index.
func (c *Ctl) AccessControl(index int) CntAcr {
	checkIndex("access control", index, NumFrames)
	return c.regs.Get().cntacr[index].Read()
}

// SetAccessControl sets the top-level access controls of frame index.
func (c *Ctl) SetAccessControl(index int, cntacr CntAcr) {
	checkIndex("access control", index, NumFrames)
	c.regs.Get().cntacr[index].Write(cntacr)
}

// VirtualOffset returns the offset between physical and virtual count of
// frame index.
func (c *Ctl) VirtualOffset(index int) uint64 {
	checkIndex("virtual offset", index, NumFrames)
	return c.regs.Get().cntvoff[index].Read()
}

// SetVirtualOffset sets the offset between physical and virtual count of
// frame index.
func (c *Ctl) SetVirtualOffset(index int, offset uint64) {
	checkIndex("virtual offset", index, NumFrames)
	c.regs.Get().cntvoff[index].Write(offset)
}

// Identification reads the frame's ID registers.
func (c *Ctl) Identification() Identification {
	return c.regs.Get().counterID.read()
}
