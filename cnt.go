package gtimer

import "github.com/tinyrange/gtimer/mmio"

// Cnt drives a CNTBase<n> frame.
type Cnt struct {
	regs *mmio.Unique[CntBase]
}

// NewCnt takes ownership of regs.
func NewCnt(regs *mmio.Unique[CntBase]) *Cnt {
	return &Cnt{regs: regs}
}

// Release gives the frame back.
func (c *Cnt) Release() { c.regs.Release() }

// PhysicalCount returns CNTPCT.
func (c *Cnt) PhysicalCount() uint64 {
	return c.regs.Get().cntpct.Read()
}

// VirtualCount returns CNTVCT.
func (c *Cnt) VirtualCount() uint64 {
	return c.regs.Get().cntvct.Read()
}

// Frequency returns the counter frequency in Hz.
func (c *Cnt) Frequency() uint32 {
	return c.regs.Get().cntfrq.Read()
}

// EL0Access returns the access rights of the CNTEL0Base view.
func (c *Cnt) EL0Access() CntEl0Acr {
	return c.regs.Get().cntel0acr.Read()
}

// SetEL0Access sets the access rights of the CNTEL0Base view.
func (c *Cnt) SetEL0Access(value CntEl0Acr) {
	c.regs.Get().cntel0acr.Write(value)
}

// VirtualOffset returns the frame's CNTVOFF.
func (c *Cnt) VirtualOffset() uint64 {
	return c.regs.Get().cntvoff.Read()
}

// Identification reads the frame's ID registers.
func (c *Cnt) Identification() Identification {
	return c.regs.Get().counterID.read()
}

// PhysicalTimer lends out the physical timer. c cannot be used until the
// returned Timer is released.
func (c *Cnt) PhysicalTimer() *Timer {
	frequency := c.Frequency()
	return NewTimer(mmio.Borrow(c.regs, func(r *CntBase) *TimerRegs { return &r.cntp }), frequency)
}

// VirtualTimer lends out the virtual timer. c cannot be used until the
// returned Timer is released.
func (c *Cnt) VirtualTimer() *Timer {
	frequency := c.Frequency()
	return NewTimer(mmio.Borrow(c.regs, func(r *CntBase) *TimerRegs { return &r.cntv }), frequency)
}

// CntEl0 drives a CNTEL0Base<n> frame.
type CntEl0 struct {
	regs *mmio.Unique[CntEl0Base]
}

// NewCntEl0 takes ownership of regs.
func NewCntEl0(regs *mmio.Unique[CntEl0Base]) *CntEl0 {
	return &CntEl0{regs: regs}
}

// Release gives the frame back.
func (c *CntEl0) Release() { c.regs.Release() }

// PhysicalCount returns CNTPCT.
func (c *CntEl0) PhysicalCount() uint64 {
	return c.regs.Get().cntpct.Read()
}

// VirtualCount returns CNTVCT.
func (c *CntEl0) VirtualCount() uint64 {
	return c.regs.Get().cntvct.Read()
}

// Frequency returns the counter frequency in Hz.
func (c *CntEl0) Frequency() uint32 {
	return c.regs.Get().cntfrq.Read()
}

// Identification reads the frame's ID registers.
func (c *CntEl0) Identification() Identification {
	return c.regs.Get().counterID.read()
}

// PhysicalTimer lends out the physical timer. c cannot be used until the
// returned Timer is released.
func (c *CntEl0) PhysicalTimer() *Timer {
	frequency := c.Frequency()
	return NewTimer(mmio.Borrow(c.regs, func(r *CntEl0Base) *TimerRegs { return &r.cntp }), frequency)
}

// VirtualTimer lends out the virtual timer. c cannot be used until the
// returned Timer is released.
func (c *CntEl0) VirtualTimer() *Timer {
	frequency := c.Frequency()
	return NewTimer(mmio.Borrow(c.regs, func(r *CntEl0Base) *TimerRegs { return &r.cntv }), frequency)
}
