package gtimer

import (
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/tinyrange/gtimer/mmio"
)

const microsPerSecond = 1_000_000

// Timer drives one physical or virtual timer of a frame. It holds the
// frequency sampled when it was created.
//
// Deadlines are relative to the previous compare value, not to the current
// count. Set a baseline with SetCompare before the first deadline after
// reset.
type Timer struct {
	regs      *mmio.Unique[TimerRegs]
	frequency uint32
}

// NewTimer takes ownership of regs. frequency is the counter rate in Hz.
func NewTimer(regs *mmio.Unique[TimerRegs], frequency uint32) *Timer {
	return &Timer{regs: regs, frequency: frequency}
}

// Release gives the registers back to the frame driver they came from.
func (t *Timer) Release() { t.regs.Release() }

// Frequency returns the frequency the timer was created with.
func (t *Timer) Frequency() uint32 { return t.frequency }

// GenerateInterruptAfter moves the deadline by d, enables the timer with its
// interrupt unmasked and returns at once.
//
// The caller must have the system ready to take the interrupt: vector table
// installed and interrupt controller configured. Nothing here checks that.
func (t *Timer) GenerateInterruptAfter(d time.Duration) {
	deadline := t.setDeadline(d)
	t.setControl(TimerControlEnable)
	slog.Debug("gtimer: interrupt armed", "deadline", deadline, "after", d)
}

// CancelInterrupt masks the timer interrupt with a single write of IMASK to
// the control register.
func (t *Timer) CancelInterrupt() {
	t.setControl(TimerControlIMask)
}

// Wait moves the deadline by d, enables the timer with its interrupt masked
// and spins until the timer condition is met. The calling goroutine does
// nothing else until then.
func (t *Timer) Wait(d time.Duration) {
	deadline := t.setDeadline(d)
	t.setControl(TimerControlEnable | TimerControlIMask)
	slog.Debug("gtimer: waiting", "deadline", deadline, "for", d)

	for !t.Control().Has(TimerControlIStatus) {
	}
}

// Compare returns the compare value.
func (t *Timer) Compare() uint64 {
	return t.regs.Get().cval.Read()
}

// SetCompare writes the compare value.
func (t *Timer) SetCompare(value uint64) {
	t.regs.Get().cval.Write(value)
}

// TimerValue returns the signed distance from the count to the compare
// value, as the hardware reports it in TVAL.
func (t *Timer) TimerValue() int32 {
	return int32(t.regs.Get().tval.Read())
}

// Control returns the control register.
func (t *Timer) Control() TimerControl {
	return t.regs.Get().ctl.Read()
}

func (t *Timer) setControl(control TimerControl) {
	t.regs.Get().ctl.Write(control)
}

// setDeadline adds d worth of ticks to the compare value. The sum wraps like
// the 64-bit hardware register does, except that an increment too large for
// 64 bits pins the compare value at MaxUint64.
func (t *Timer) setDeadline(d time.Duration) uint64 {
	increment, ok := durationToTicks(t.frequency, d)
	r := t.regs.Get()
	value := r.cval.Read() + increment
	if !ok {
		value = math.MaxUint64
	}
	r.cval.Write(value)
	return value
}

// DurationToTicks converts d to ticks of a counter running at frequency Hz,
// at microsecond resolution and truncated toward zero. Negative durations
// give zero; results beyond 64 bits saturate.
func DurationToTicks(frequency uint32, d time.Duration) uint64 {
	ticks, _ := durationToTicks(frequency, d)
	return ticks
}

// durationToTicks is DurationToTicks, also reporting false when the result
// saturated.
func durationToTicks(frequency uint32, d time.Duration) (uint64, bool) {
	if d <= 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(uint64(frequency), uint64(d.Microseconds()))
	if hi >= microsPerSecond {
		return math.MaxUint64, false
	}
	ticks, _ := bits.Div64(hi, lo, microsPerSecond)
	return ticks, true
}
