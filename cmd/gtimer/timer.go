package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/gtimer"
)

const (
	waitSteps   = 100
	minWaitStep = time.Millisecond
)

// openTimer lends out the selected timer of the selected frame with its
// compare value moved to the current count, so deadlines count from now.
func (c *gtimerCmd) openTimer(s *system) (*gtimer.Cnt, *gtimer.Timer, uint32, error) {
	fc, ok := s.board.Frame(c.frame)
	if !ok {
		return nil, nil, 0, fmt.Errorf("board %s has no frame %d", s.board.Name, c.frame)
	}
	if !s.control.Enabled() {
		return nil, nil, 0, fmt.Errorf("system counter is disabled; pass -enable to start it")
	}
	if c.virtual && !s.ctl.Features(c.frame).Has(gtimer.FeaturesVirtual) {
		return nil, nil, 0, fmt.Errorf("frame %d has no virtual timer", c.frame)
	}

	cnt, err := s.cnt(c.frame)
	if err != nil {
		return nil, nil, 0, err
	}
	var (
		timer *gtimer.Timer
		now   uint64
		irq   uint32
	)
	if c.virtual {
		now = cnt.VirtualCount()
		timer = cnt.VirtualTimer()
		irq = fc.VirtualIRQ
	} else {
		now = cnt.PhysicalCount()
		timer = cnt.PhysicalTimer()
		irq = fc.PhysicalIRQ
	}
	if timer.Frequency() == 0 {
		timer.Release()
		cnt.Release()
		return nil, nil, 0, fmt.Errorf("frame %d reports a zero counter frequency", c.frame)
	}
	timer.SetCompare(now)
	return cnt, timer, irq, nil
}

func (c *gtimerCmd) wait(ctx context.Context, s *system, d time.Duration) error {
	cnt, timer, _, err := c.openTimer(s)
	if err != nil {
		return err
	}
	defer cnt.Release()
	defer timer.Release()

	base := timer.Compare()
	schedule := waitSchedule(timer.Frequency(), d)
	bar := progressbar.Default(int64(len(schedule)), "waiting")

	start := time.Now()
	for _, ticks := range schedule {
		if err := ctx.Err(); err != nil {
			timer.CancelInterrupt()
			return err
		}
		timer.SetCompare(base + ticks)
		timer.Wait(0)
		bar.Add(1)
	}
	bar.Finish()
	timer.CancelInterrupt()

	fmt.Fprintf(c.out, "waited %s at %d Hz (wall clock %s)\n", d, timer.Frequency(), time.Since(start).Round(time.Microsecond))
	return nil
}

// waitSchedule splits a wait of d into progress steps and returns the tick
// offset from the starting compare value at which each step ends. Offsets
// are computed from the elapsed total, so the last one is exactly d in ticks.
func waitSchedule(frequency uint32, d time.Duration) []uint64 {
	step := max(d/waitSteps, minWaitStep)
	var schedule []uint64
	for done := step; ; done += step {
		if done >= d {
			return append(schedule, gtimer.DurationToTicks(frequency, d))
		}
		schedule = append(schedule, gtimer.DurationToTicks(frequency, done))
	}
}

func (c *gtimerCmd) arm(ctx context.Context, s *system, d time.Duration) error {
	cnt, timer, irq, err := c.openTimer(s)
	if err != nil {
		return err
	}
	defer cnt.Release()
	defer timer.Release()
	defer timer.CancelInterrupt()

	var raised <-chan struct{}
	if s.device != nil && irq != 0 {
		raised = s.irqs.raised(irq)
	}

	start := time.Now()
	timer.GenerateInterruptAfter(d)

	if raised != nil {
		select {
		case <-raised:
			fmt.Fprintf(c.out, "interrupt %d raised after %s\n", irq, time.Since(start).Round(time.Microsecond))
			return nil
		case <-time.After(d + time.Second):
			return fmt.Errorf("interrupt %d not raised within %s", irq, d+time.Second)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// No interrupt can be taken here, so watch the timer condition instead.
	if irq == 0 {
		slog.Warn("timer has no interrupt line; polling ISTATUS", "frame", c.frame)
	}
	ticker := time.NewTicker(max(d/waitSteps, 100*time.Microsecond))
	defer ticker.Stop()
	for !timer.Control().Has(gtimer.TimerControlIStatus) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fmt.Fprintf(c.out, "timer condition met after %s (CTL %v)\n", time.Since(start).Round(time.Microsecond), timer.Control())
	return nil
}
