package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tinyrange/gtimer"
	"github.com/tinyrange/gtimer/internal/board"
	"github.com/tinyrange/gtimer/internal/chipset"
	"github.com/tinyrange/gtimer/mmio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type irqRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *irqRecorder) SetIRQ(line uint32, level bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%d:%v", line, level))
}

type harness struct {
	dev    *Device
	frames *board.Frames
	lines  *chipset.LineSet
	clock  *fakeClock
}

func testBoard() *board.Board {
	return &board.Board{
		Name:      "test",
		Frequency: 1_000_000,
		Scaling:   true,
		Control:   0x1000_0000,
		Read:      0x1001_0000,
		Ctl:       0x1002_0000,
		Frames: []board.Frame{
			{Index: 0, Base: 0x1003_0000, EL0: 0x1004_0000, Virtual: true, PhysicalIRQ: 57, VirtualIRQ: 58},
			{Index: 3, Base: 0x1005_0000, PhysicalIRQ: 60},
		},
	}
}

func newHarness(t *testing.T, b *board.Board) *harness {
	t.Helper()
	frames, err := board.Allocate(mmio.NewAddressSpace(), b)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	h := &harness{
		frames: frames,
		lines:  chipset.NewLineSet(nil),
		clock:  &fakeClock{now: time.Unix(1000, 0)},
	}
	h.dev, err = New(b, frames, Options{Lines: h.lines, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		h.dev.Stop()
		if err := frames.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return h
}

func overlay[T any](t *testing.T, r *mmio.Region) *mmio.Unique[T] {
	t.Helper()
	u, err := mmio.Overlay[T](r)
	if err != nil {
		t.Fatalf("Overlay %s: %v", r.Name, err)
	}
	t.Cleanup(u.Release)
	return u
}

func (h *harness) control(t *testing.T) *gtimer.Control {
	return gtimer.NewControl(overlay[gtimer.CntControlBase](t, h.frames.Control))
}

func (h *harness) ctl(t *testing.T) *gtimer.Ctl {
	return gtimer.NewCtl(overlay[gtimer.CntCtlBase](t, h.frames.Ctl))
}

func (h *harness) cnt(t *testing.T, index int) *gtimer.Cnt {
	tf, ok := h.frames.Timer(index)
	if !ok {
		t.Fatalf("frame %d not mapped", index)
	}
	return gtimer.NewCnt(overlay[gtimer.CntBase](t, tf.Base))
}

func (h *harness) read32(t *testing.T, addr uint64) uint32 {
	t.Helper()
	var buf [4]byte
	if err := h.dev.ReadMMIO(addr, buf[:]); err != nil {
		t.Fatalf("ReadMMIO(0x%x): %v", addr, err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (h *harness) read64(t *testing.T, addr uint64) uint64 {
	t.Helper()
	var buf [8]byte
	if err := h.dev.ReadMMIO(addr, buf[:]); err != nil {
		t.Fatalf("ReadMMIO(0x%x): %v", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (h *harness) write32(t *testing.T, addr uint64, v uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if err := h.dev.WriteMMIO(addr, buf[:]); err != nil {
		t.Fatalf("WriteMMIO(0x%x): %v", addr, err)
	}
}

func (h *harness) write64(t *testing.T, addr uint64, v uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if err := h.dev.WriteMMIO(addr, buf[:]); err != nil {
		t.Fatalf("WriteMMIO(0x%x): %v", addr, err)
	}
}

func TestResetState(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)
	ctl := h.ctl(t)

	if control.Enabled() {
		t.Fatalf("counter enabled after reset")
	}
	if got := control.BaseFrequency(); got != 1_000_000 {
		t.Fatalf("BaseFrequency = %d, want 1000000", got)
	}
	if !control.ScalingImplemented() {
		t.Fatalf("scaling not implemented")
	}
	if got := control.Scale(); got != 1<<24 {
		t.Fatalf("Scale = %#x, want 1<<24", got)
	}
	if got := ctl.Frequency(); got != 1_000_000 {
		t.Fatalf("CNTFRQ = %d, want 1000000", got)
	}

	want := gtimer.FeaturesImplemented | gtimer.FeaturesVirtual | gtimer.FeaturesCntEL0Base
	if got := ctl.Features(0); got != want {
		t.Fatalf("Features(0) = %v, want %v", got, want)
	}
	if got := ctl.Features(3); got != gtimer.FeaturesImplemented {
		t.Fatalf("Features(3) = %v, want IMPLEMENTED", got)
	}
	if got := ctl.Features(1); got != 0 {
		t.Fatalf("Features(1) = %v, want 0", got)
	}
	if got := ctl.AccessControl(0); got != acrAll {
		t.Fatalf("AccessControl(0) = %v, want %v", got, acrAll)
	}

	id := control.Identification()
	if id.PartNumber() != 0x101 || id.Revision() != 1 {
		t.Fatalf("part %#x rev %d, want 0x101 rev 1", id.PartNumber(), id.Revision())
	}
	if got := h.cnt(t, 3).Frequency(); got != 1_000_000 {
		t.Fatalf("frame 3 CNTFRQ = %d", got)
	}
}

func TestNoScalingWithoutFeature(t *testing.T) {
	b := testBoard()
	b.Scaling = false
	h := newHarness(t, b)
	control := h.control(t)
	if control.ScalingImplemented() {
		t.Fatalf("scaling implemented on a board without it")
	}

	control.SetEnable(true)
	control.EnableScaling(1 << 25)
	h.dev.Tick(10)
	if got := control.Count(); got != 10 {
		t.Fatalf("count = %d, want 10 with scaling absent", got)
	}
}

func TestCounterFollowsEnable(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)

	h.dev.Tick(100)
	if got := control.Count(); got != 0 {
		t.Fatalf("disabled counter moved to %d", got)
	}

	control.SetEnable(true)
	h.dev.Tick(100)
	if got := control.Count(); got != 100 {
		t.Fatalf("count = %d, want 100", got)
	}

	reader := gtimer.NewReader(overlay[gtimer.CntReadBase](t, h.frames.Read))
	if got := reader.Count(); got != 100 {
		t.Fatalf("CNTReadBase count = %d, want 100", got)
	}
	if got := h.cnt(t, 0).PhysicalCount(); got != 100 {
		t.Fatalf("CNTPCT = %d, want 100", got)
	}

	control.SetEnable(false)
	h.dev.Tick(100)
	if got := h.dev.Count(); got != 100 {
		t.Fatalf("count after disable = %d, want 100", got)
	}
}

func TestCounterFollowsClock(t *testing.T) {
	b := testBoard()
	b.Frequency = 3
	h := newHarness(t, b)
	control := h.control(t)
	control.SetEnable(true)

	// 1.5 ticks, then another 1.5: the remainder carries.
	h.clock.Advance(500 * time.Millisecond)
	h.dev.Poll()
	if got := h.dev.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	h.clock.Advance(500 * time.Millisecond)
	h.dev.Poll()
	if got := h.dev.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestSoftwareCountWrite(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)
	control.SetEnable(true)
	h.dev.Tick(5)

	control.SetCount(1000)
	h.dev.Tick(1)
	if got := control.Count(); got != 1001 {
		t.Fatalf("count = %d, want 1001", got)
	}
}

func TestScaling(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)
	control.SetEnable(true)
	control.EnableScaling(1 << 23) // one half

	h.dev.Tick(3)
	if got := h.dev.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	h.dev.Tick(1)
	if got := h.dev.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	control.DisableScaling()
	h.dev.Tick(4)
	if got := h.dev.Count(); got != 6 {
		t.Fatalf("count = %d, want 6", got)
	}
}

func TestFrequencyRequest(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)

	control.SetFrequencyMode(1, 1000)
	control.RequestFrequency(1)
	h.dev.Poll()
	if got := control.FrequencyIndex(); got != 1 {
		t.Fatalf("FrequencyIndex = %d, want 1", got)
	}
	if got := h.dev.Frequency(); got != 1000 {
		t.Fatalf("Frequency = %d, want 1000", got)
	}

	// Empty slots are never acknowledged.
	control.RequestFrequency(2)
	h.dev.Poll()
	if got := control.FrequencyIndex(); got != 1 {
		t.Fatalf("FrequencyIndex = %d after empty request, want 1", got)
	}

	control.SetEnable(true)
	h.clock.Advance(time.Second)
	control.RequestFrequency(1)
	h.dev.Poll()
	if got := h.dev.Count(); got != 1000 {
		t.Fatalf("count = %d, want 1000", got)
	}
}

func TestFramesFollowCtl(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)
	ctl := h.ctl(t)
	cnt := h.cnt(t, 0)

	control.SetEnable(true)
	ctl.SetVirtualOffset(0, 40)
	ctl.SetFrequency(2_000_000)
	h.dev.Tick(100)

	if got := cnt.VirtualCount(); got != 60 {
		t.Fatalf("CNTVCT = %d, want 60", got)
	}
	if got := cnt.VirtualOffset(); got != 40 {
		t.Fatalf("CNTVOFF = %d, want 40", got)
	}
	if got := cnt.Frequency(); got != 2_000_000 {
		t.Fatalf("CNTFRQ = %d, want 2000000", got)
	}
	// The counter rate comes from the frequency modes table, not CNTFRQ.
	if got := h.dev.Frequency(); got != 1_000_000 {
		t.Fatalf("Frequency = %d, want 1000000", got)
	}
}

func TestPhysicalTimerRaisesLine(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	timer := h.cnt(t, 0).PhysicalTimer()
	defer timer.Release()

	timer.GenerateInterruptAfter(time.Millisecond)
	if got := timer.Compare(); got != 1000 {
		t.Fatalf("compare = %d, want 1000", got)
	}

	h.dev.Tick(999)
	if h.lines.Level(57) {
		t.Fatalf("line raised before the deadline")
	}
	if got := timer.TimerValue(); got != 1 {
		t.Fatalf("TimerValue = %d, want 1", got)
	}

	h.dev.Tick(1)
	if !h.lines.Level(57) {
		t.Fatalf("line not raised at the deadline")
	}
	if !timer.Control().Has(gtimer.TimerControlIStatus) {
		t.Fatalf("ISTATUS clear at the deadline")
	}
	if h.lines.Level(58) {
		t.Fatalf("virtual line raised")
	}

	timer.CancelInterrupt()
	h.dev.Poll()
	if h.lines.Level(57) {
		t.Fatalf("line still high after cancel")
	}
	if got := timer.Control(); got != gtimer.TimerControlIMask {
		t.Fatalf("control = %v, want IMASK", got)
	}
}

func TestMaskedTimerKeepsLineLow(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	timer := h.cnt(t, 0).VirtualTimer()
	defer timer.Release()

	timer.SetCompare(10)
	h.frames.Timers[0].Base.Store32(regCNTV+timerCTL, uint32(gtimer.TimerControlEnable|gtimer.TimerControlIMask))
	h.dev.Tick(20)
	if !timer.Control().Has(gtimer.TimerControlIStatus) {
		t.Fatalf("ISTATUS clear past the deadline")
	}
	if h.lines.Level(58) {
		t.Fatalf("masked timer raised its line")
	}
}

func TestVirtualTimerUsesOffset(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	h.ctl(t).SetVirtualOffset(0, 50)
	timer := h.cnt(t, 0).VirtualTimer()
	defer timer.Release()

	timer.SetCompare(25)
	timer.GenerateInterruptAfter(0)
	h.dev.Tick(60)
	if h.lines.Level(58) {
		t.Fatalf("virtual line raised at virtual count 10")
	}
	h.dev.Tick(15)
	if !h.lines.Level(58) {
		t.Fatalf("virtual line not raised at virtual count 25")
	}
}

func TestWaitAgainstRunningSimulator(t *testing.T) {
	b := testBoard()
	b.PollInterval = board.Duration(50 * time.Microsecond)
	frames, err := board.Allocate(mmio.NewAddressSpace(), b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { frames.Close() })
	dev, err := New(b, frames, Options{})
	if err != nil {
		t.Fatal(err)
	}

	control := gtimer.NewControl(overlay[gtimer.CntControlBase](t, frames.Control))
	control.SetEnable(true)
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dev.Stop()

	timer := gtimer.NewCnt(overlay[gtimer.CntBase](t, frames.Timers[0].Base)).PhysicalTimer()
	defer timer.Release()

	done := make(chan struct{})
	go func() {
		timer.Wait(2 * time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Wait did not return")
	}
	if got := dev.Count(); got < 2000 {
		t.Fatalf("count = %d after Wait, want at least 2000", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t, testBoard())
	for i := 0; i < 2; i++ {
		if err := h.dev.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := h.dev.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	h := newHarness(t, testBoard())
	control := h.control(t)
	control.SetEnable(true)
	timer := h.cnt(t, 3).PhysicalTimer()
	timer.GenerateInterruptAfter(time.Microsecond)
	timer.Release()
	h.dev.Tick(10)
	if !h.lines.Level(60) {
		t.Fatalf("line 60 not raised")
	}

	if err := h.dev.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if h.lines.Level(60) {
		t.Fatalf("line 60 still high after reset")
	}
	if control.Enabled() || control.Count() != 0 || h.dev.Count() != 0 {
		t.Fatalf("counter state survived reset")
	}
}

func TestMMIOTimerValueWrite(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	h.dev.Tick(100)

	base := uint64(0x1003_0000)
	h.write32(t, base+regCNTP+timerTVAL, 50)
	if got := h.read64(t, base+regCNTP+timerCVAL); got != 150 {
		t.Fatalf("CVAL = %d, want 150", got)
	}

	if got := int32(h.read32(t, base+regCNTP+timerTVAL)); got != 50 {
		t.Fatalf("TVAL = %d, want 50", got)
	}

	minusTen := int32(-10)
	h.write32(t, base+regCNTP+timerTVAL, uint32(minusTen))
	h.write32(t, base+regCNTP+timerCTL, uint32(gtimer.TimerControlEnable))
	if got := gtimer.TimerControl(h.read32(t, base+regCNTP+timerCTL)); !got.Has(gtimer.TimerControlIStatus) {
		t.Fatalf("CTL = %v, want ISTATUS", got)
	}
	if !h.lines.Level(57) {
		t.Fatalf("line 57 not raised")
	}
}

func TestMMIOReadOnlyWritesIgnored(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	h.dev.Tick(7)

	h.write64(t, 0x1003_0000+regCNTPCT, 99)
	if got := h.read64(t, 0x1003_0000+regCNTPCT); got != 7 {
		t.Fatalf("CNTPCT = %d, want 7", got)
	}
	h.write32(t, 0x1002_0000+regCNTTIDR, 0)
	if got := h.read32(t, 0x1002_0000+regCNTTIDR); got != 0x0100_0007 {
		t.Fatalf("CNTTIDR = %#x, want 0x1000007", got)
	}
	h.write64(t, 0x1001_0000+regReadCNTCV, 99)
	if got := h.read64(t, 0x1001_0000+regReadCNTCV); got != 7 {
		t.Fatalf("CNTReadBase CNTCV = %d, want 7", got)
	}
}

func TestMMIOAccessControl(t *testing.T) {
	h := newHarness(t, testBoard())
	h.control(t).SetEnable(true)
	h.dev.Tick(42)

	h.write32(t, 0x1002_0000+regCNTACR, uint32(gtimer.CntAcrRVCT))
	if got := h.read64(t, 0x1003_0000+regCNTPCT); got != 0 {
		t.Fatalf("CNTPCT = %d with RPCT clear, want 0", got)
	}
	if got := h.read64(t, 0x1003_0000+regCNTVCT); got != 42 {
		t.Fatalf("CNTVCT = %d, want 42", got)
	}

	el0 := uint64(0x1004_0000)
	if got := h.read64(t, el0+regCNTPCT); got != 0 {
		t.Fatalf("EL0 CNTPCT = %d with EL0PCTEN clear, want 0", got)
	}
	h.write32(t, 0x1003_0000+regCNTEL0ACR, uint32(gtimer.CntEl0AcrEL0PCTEN|gtimer.CntEl0AcrEL0PTEN))
	if got := h.read64(t, el0+regCNTPCT); got != 42 {
		t.Fatalf("EL0 CNTPCT = %d, want 42", got)
	}
	if got := h.read32(t, el0+regFrameFRQ); got != 1_000_000 {
		t.Fatalf("EL0 CNTFRQ = %d, want 1000000", got)
	}

	// A compare value written through the EL0 view reaches the frame.
	h.write64(t, el0+regCNTP+timerCVAL, 500)
	if got := h.frames.Timers[0].Base.Load64(regCNTP + timerCVAL); got != 500 {
		t.Fatalf("CNTBase CVAL = %d, want 500", got)
	}
	// The virtual timer stays hidden.
	h.write64(t, el0+regCNTV+timerCVAL, 500)
	if got := h.frames.Timers[0].Base.Load64(regCNTV + timerCVAL); got != 0 {
		t.Fatalf("CNTBase virtual CVAL = %d, want 0", got)
	}
}

func TestMMIOErrors(t *testing.T) {
	h := newHarness(t, testBoard())
	if err := h.dev.ReadMMIO(0x1000_0000, make([]byte, 2)); err == nil {
		t.Fatalf("2-byte read accepted")
	}
	if err := h.dev.ReadMMIO(0x1000_0004, make([]byte, 8)); err == nil {
		t.Fatalf("unaligned read accepted")
	}
	if err := h.dev.WriteMMIO(0x2000_0000, make([]byte, 4)); err == nil {
		t.Fatalf("write outside the frames accepted")
	}
}

func TestChipsetRouting(t *testing.T) {
	h := newHarness(t, testBoard())

	builder := chipset.NewBuilder()
	if err := builder.RegisterDevice("gtimer", h.dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	cs := builder.Build()

	buf := make([]byte, 4)
	if err := cs.HandleMMIO(0x1002_0000+regCNTFRQ, buf, false); err != nil {
		t.Fatalf("HandleMMIO: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 1_000_000 {
		t.Fatalf("CNTFRQ = %d, want 1000000", got)
	}

	binary.LittleEndian.PutUint32(buf, uint32(gtimer.CntCrEN))
	if err := cs.HandleMMIO(0x1000_0000+regCNTCR, buf, true); err != nil {
		t.Fatalf("HandleMMIO write: %v", err)
	}
	h.dev.Tick(3)
	if got := h.dev.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestLineEventsReachSink(t *testing.T) {
	b := testBoard()
	frames, err := board.Allocate(mmio.NewAddressSpace(), b)
	if err != nil {
		t.Fatal(err)
	}
	defer frames.Close()
	rec := &irqRecorder{}
	dev, err := New(b, frames, Options{Lines: chipset.NewLineSet(rec), Clock: (&fakeClock{}).Now})
	if err != nil {
		t.Fatal(err)
	}

	frames.Control.Store32(regCNTCR, uint32(gtimer.CntCrEN))
	frames.Timers[1].Base.Store64(regCNTP+timerCVAL, 5)
	frames.Timers[1].Base.Store32(regCNTP+timerCTL, uint32(gtimer.TimerControlEnable))
	dev.Tick(5)
	frames.Timers[1].Base.Store32(regCNTP+timerCTL, 0)
	dev.Tick(1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 {
		t.Fatalf("events = %v, want a raise and a drop", rec.events)
	}
}

func TestNewRejectsUnmappedFrames(t *testing.T) {
	b := testBoard()
	frames, err := board.Allocate(mmio.NewAddressSpace(), b)
	if err != nil {
		t.Fatal(err)
	}
	defer frames.Close()

	other := testBoard()
	other.Frames = append(other.Frames, board.Frame{Index: 5, Base: 0x1006_0000})
	if _, err := New(other, frames, Options{}); err == nil {
		t.Fatalf("New accepted a board with an unmapped frame")
	}

	zero := testBoard()
	zero.Frequency = 0
	if _, err := New(zero, frames, Options{}); err == nil {
		t.Fatalf("New accepted a zero frequency")
	}
}
