// Package sim is a software model of an Arm Generic Timer. It plays the
// hardware's part over a board's frames: the system counter advances while
// enabled, read-only registers are kept current, and each timer's condition
// drives an interrupt line.
package sim

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/tinyrange/gtimer"
	"github.com/tinyrange/gtimer/internal/board"
	"github.com/tinyrange/gtimer/internal/chipset"
	"github.com/tinyrange/gtimer/mmio"
)

const nanosPerSecond = 1_000_000_000

// LineAllocator hands out interrupt lines by number. chipset.LineSet
// implements it.
type LineAllocator interface {
	AllocateLine(line uint32) chipset.LineInterrupt
}

// Options configures a Device.
type Options struct {
	// Lines provides the per-frame interrupt lines. Nil leaves them
	// detached.
	Lines LineAllocator
	// Clock replaces time.Now.
	Clock func() time.Time
}

// comparator tracks one timer of one frame. The last values published to
// memory are kept so writes made behind the model's back can be spotted.
type comparator struct {
	name    string
	virtual bool
	offset  uint64 // regCNTP or regCNTV
	line    chipset.LineInterrupt
	irq     uint32

	cval     uint64
	ctl      gtimer.TimerControl
	tval     uint32
	asserted bool
}

type frame struct {
	index  int
	base   *mmio.Region
	el0    *mmio.Region
	timers []*comparator
}

// Device simulates the counter and timers of one board.
type Device struct {
	board  *board.Board
	frames *board.Frames
	clock  func() time.Time

	mu        sync.Mutex
	count     uint64 // physical count
	published uint64 // CNTCV as last written to the control frame
	remainder uint64 // nanosecond remainder carried between advances
	scaleFrac uint64 // 24-bit fraction carried between scaled increments
	frequency uint32 // rate of the selected frequency mode
	last      time.Time
	cnts      []*frame

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a simulator over frames, which must have been mapped for b. The
// registers are put in their reset state.
func New(b *board.Board, frames *board.Frames, opts Options) (*Device, error) {
	if frames.Control == nil || frames.Ctl == nil {
		return nil, fmt.Errorf("sim: board %s: control frames not mapped", b.Name)
	}
	if b.Frequency == 0 {
		return nil, fmt.Errorf("sim: board %s: %w: zero counter frequency", b.Name, board.ErrInvalid)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Device{
		board:  b,
		frames: frames,
		clock:  clock,
	}
	for _, fc := range b.Frames {
		regions, ok := frames.Timer(fc.Index)
		if !ok || regions.Base == nil {
			return nil, fmt.Errorf("sim: board %s: frame %d not mapped", b.Name, fc.Index)
		}
		f := &frame{index: fc.Index, base: regions.Base, el0: regions.EL0}
		f.timers = append(f.timers, newComparator(fmt.Sprintf("CNTP%d", fc.Index), false, fc.PhysicalIRQ, opts.Lines))
		if fc.Virtual {
			f.timers = append(f.timers, newComparator(fmt.Sprintf("CNTV%d", fc.Index), true, fc.VirtualIRQ, opts.Lines))
		}
		d.cnts = append(d.cnts, f)
	}

	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
	return d, nil
}

func newComparator(name string, virtual bool, irq uint32, lines LineAllocator) *comparator {
	c := &comparator{
		name:    name,
		virtual: virtual,
		offset:  regCNTP,
		irq:     irq,
		line:    chipset.LineInterruptDetached(),
	}
	if virtual {
		c.offset = regCNTV
	}
	if lines != nil && irq != 0 {
		c.line = lines.AllocateLine(irq)
	}
	return c
}

// Start runs the model on a ticker at the board's poll interval.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker != nil {
		return nil
	}
	interval := d.board.PollInterval.Duration()
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	d.last = d.clock()
	d.ticker = time.NewTicker(interval)
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.run(d.ticker, d.done)
	slog.Debug("sim: started", "board", d.board.Name, "interval", interval)
	return nil
}

// Stop halts the ticker. The registers keep their last values.
func (d *Device) Stop() error {
	d.mu.Lock()
	if d.ticker == nil {
		d.mu.Unlock()
		return nil
	}
	d.ticker.Stop()
	close(d.done)
	d.ticker = nil
	d.mu.Unlock()

	d.wg.Wait()
	slog.Debug("sim: stopped", "board", d.board.Name)
	return nil
}

// Reset returns every register to its reset value and drops all lines.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	return nil
}

func (d *Device) run(ticker *time.Ticker, done <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.Poll()
		}
	}
}

// Poll advances the counter to the current clock reading and updates every
// register.
func (d *Device) Poll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollLocked()
}

func (d *Device) pollLocked() {
	now := d.clock()
	if now.Before(d.last) {
		d.last = now
	}
	elapsed := uint64(now.Sub(d.last))
	d.last = now

	d.syncControlLocked()
	d.advanceLocked(d.ticksFor(elapsed))
	d.syncFramesLocked()
}

// Tick advances the counter by n input ticks, as if n periods of the
// selected frequency had elapsed, and updates every register.
func (d *Device) Tick(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.syncControlLocked()
	d.advanceLocked(n)
	d.syncFramesLocked()
}

// Count returns the physical count.
func (d *Device) Count() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Frequency returns the rate of the frequency mode the counter runs at.
func (d *Device) Frequency() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

func (d *Device) resetLocked() {
	ctrl := d.frames.Control
	for off := uint64(0); off < ctrl.Size; off += 4 {
		ctrl.Store32(off, 0)
	}
	if d.board.Scaling {
		ctrl.Store32(regCNTID, cntidScaling)
	}
	ctrl.Store32(regCNTSCR, scaleOne)
	ctrl.Store32(regCNTFID, d.board.Frequency)

	ctl := d.frames.Ctl
	for off := uint64(0); off < ctl.Size; off += 4 {
		ctl.Store32(off, 0)
	}
	ctl.Store32(regCNTFRQ, d.board.Frequency)
	var tidr uint32
	for _, fc := range d.board.Frames {
		features := gtimer.FeaturesImplemented
		if fc.Virtual {
			features |= gtimer.FeaturesVirtual
		}
		if fc.EL0 != 0 {
			features |= gtimer.FeaturesCntEL0Base
		}
		if fc.Index < tidrFrames {
			tidr |= uint32(features) << (8 * fc.Index)
		}
		ctl.Store32(regCNTACR+4*uint64(fc.Index), uint32(acrAll))
	}
	ctl.Store32(regCNTTIDR, tidr)

	for _, r := range d.frames.Regions() {
		if r != ctrl && r != ctl {
			for off := uint64(0); off < r.Size; off += 4 {
				r.Store32(off, 0)
			}
		}
		for i, v := range counterID {
			r.Store32(regCounterID+4*uint64(i), v)
		}
	}

	d.count = 0
	d.published = 0
	d.remainder = 0
	d.scaleFrac = 0
	d.frequency = d.board.Frequency
	d.last = d.clock()
	for _, f := range d.cnts {
		for _, c := range f.timers {
			c.cval, c.ctl, c.tval = 0, 0, 0
			if c.asserted {
				c.asserted = false
				c.line.SetLevel(false)
			}
		}
	}
	d.syncFramesLocked()
}

// ticksFor converts elapsed nanoseconds into counter ticks at the current
// frequency, carrying the remainder.
func (d *Device) ticksFor(elapsed uint64) uint64 {
	hi, lo := bits.Mul64(elapsed, uint64(d.frequency))
	lo, carry := bits.Add64(lo, d.remainder, 0)
	hi += carry
	if hi >= nanosPerSecond {
		d.remainder = 0
		return ^uint64(0)
	}
	ticks, rem := bits.Div64(hi, lo, nanosPerSecond)
	d.remainder = rem
	return ticks
}

// syncControlLocked applies the control frame: a new CNTCV written by
// software and a change of frequency mode.
func (d *Device) syncControlLocked() {
	ctrl := d.frames.Control

	if cv := ctrl.Load64(regCNTCV); cv != d.published {
		d.count = cv
		d.published = cv
	}

	cr := gtimer.CntCr(ctrl.Load32(regCNTCR))
	ack := gtimer.CntSr(ctrl.Load32(regCNTSR)).FCAck()
	if req := cr.FCReq(); req != ack && req < gtimer.NumFrequencyModes {
		// Requests for an empty slot are not acknowledged.
		if ctrl.Load32(regCNTFID+4*uint64(req)) != 0 {
			ctrl.Store32(regCNTSR, uint32(req)<<fcShift)
			ack = req
		}
	}
	if freq := ctrl.Load32(regCNTFID + 4*uint64(ack)); freq != 0 && freq != d.frequency {
		d.frequency = freq
		d.remainder = 0
		slog.Debug("sim: frequency changed", "mode", ack, "frequency", freq)
	}
}

func (d *Device) advanceLocked(ticks uint64) {
	ctrl := d.frames.Control
	cr := gtimer.CntCr(ctrl.Load32(regCNTCR))
	if !cr.Has(gtimer.CntCrEN) {
		return
	}

	if d.board.Scaling && cr.Has(gtimer.CntCrSCEN) {
		scale := uint64(ctrl.Load32(regCNTSCR))
		hi, lo := bits.Mul64(ticks, scale)
		lo, carry := bits.Add64(lo, d.scaleFrac, 0)
		hi += carry
		d.scaleFrac = lo & (scaleOne - 1)
		ticks = hi<<(64-scaleShift) | lo>>scaleShift
	}

	d.count += ticks
	// A failed swap means software wrote CNTCV; the next sync picks it up.
	if ctrl.CompareAndSwap64(regCNTCV, d.published, d.count) {
		d.published = d.count
	}
}

// syncFramesLocked publishes the count to every frame, applies writes to
// the timer registers and recomputes each timer's condition.
func (d *Device) syncFramesLocked() {
	count := d.count
	if d.frames.Read != nil {
		d.frames.Read.Store64(regReadCNTCV, count)
	}

	ctl := d.frames.Ctl
	frq := ctl.Load32(regCNTFRQ)
	for _, f := range d.cnts {
		voff := ctl.Load64(regCNTVOFF + 8*uint64(f.index))
		views := []*mmio.Region{f.base}
		if f.el0 != nil {
			views = append(views, f.el0)
		}
		for _, v := range views {
			v.Store64(regCNTPCT, count)
			v.Store64(regCNTVCT, count-voff)
			v.Store32(regFrameFRQ, frq)
		}
		f.base.Store64(regFrameVOFF, voff)

		for _, c := range f.timers {
			now := count
			if c.virtual {
				now = count - voff
			}
			d.syncComparatorLocked(c, views, now)
		}
	}
}

func (d *Device) syncComparatorLocked(c *comparator, views []*mmio.Region, now uint64) {
	type observed struct {
		cval uint64
		tval uint32
		ctl  uint32
	}

	// Pick up software writes from any view by comparing against what was
	// last published. A TVAL write sets CVAL relative to the current count.
	prevCval, prevTval, prevCtl := c.cval, c.tval, c.ctl&ctlWritable
	seen := make([]observed, len(views))
	for i, v := range views {
		o := observed{
			cval: v.Load64(c.offset + timerCVAL),
			tval: v.Load32(c.offset + timerTVAL),
			ctl:  v.Load32(c.offset + timerCTL),
		}
		seen[i] = o
		if o.cval != prevCval {
			c.cval = o.cval
		}
		if o.tval != prevTval {
			c.cval = now + uint64(int64(int32(o.tval)))
		}
		if ctl := gtimer.TimerControl(o.ctl) & ctlWritable; ctl != prevCtl {
			c.ctl = ctl
		}
	}

	status := c.ctl.Has(gtimer.TimerControlEnable) && now >= c.cval
	c.ctl &= ctlWritable
	if status {
		c.ctl |= gtimer.TimerControlIStatus
	}
	c.tval = uint32(c.cval - now)

	// A failed swap means software wrote the register after it was read
	// above; the next sync applies that write.
	for i, v := range views {
		o := seen[i]
		v.CompareAndSwap64(c.offset+timerCVAL, o.cval, c.cval)
		v.CompareAndSwap32(c.offset+timerTVAL, o.tval, c.tval)
		v.CompareAndSwap32(c.offset+timerCTL, o.ctl, uint32(c.ctl))
	}

	asserted := status && !c.ctl.Has(gtimer.TimerControlIMask)
	if asserted != c.asserted {
		c.asserted = asserted
		c.line.SetLevel(asserted)
		slog.Debug("sim: timer line", "timer", c.name, "irq", c.irq, "level", asserted)
	}
}

var _ chipset.Device = (*Device)(nil)
