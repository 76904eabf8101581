package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/gtimer"
	"golang.org/x/term"
)

// printer writes aligned "label value" lines, styling labels when the
// output is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) heading(s string) {
	if p.color {
		s = ansi.Style{}.Bold().ForegroundColor(ansi.Green).Styled(s)
	}
	fmt.Fprintln(p.w, s)
}

const labelWidth = 18

func (p *printer) field(label string, format string, args ...any) {
	label = "  " + label
	if pad := labelWidth - ansi.StringWidth(label); pad > 0 {
		label += strings.Repeat(" ", pad)
	}
	if p.color {
		label = ansi.Style{}.Bold().Styled(label)
	}
	fmt.Fprintf(p.w, "%s %s\n", label, fmt.Sprintf(format, args...))
}

func (c *gtimerCmd) info(s *system) error {
	p := newPrinter(c.out)
	control := s.control

	p.heading(fmt.Sprintf("%s: CNTControlBase @ 0x%x", s.board.Name, s.frames.Control.Base))
	p.field("enabled", "%t", control.Enabled())
	p.field("count", "%d", control.Count())
	p.field("halt on debug", "halted=%t", control.HaltedOnDebug())
	if control.ScalingImplemented() {
		p.field("scale", "0x%08x", control.Scale())
	} else {
		p.field("scale", "not implemented")
	}
	p.field("frequency mode", "%d", control.FrequencyIndex())
	for i := 0; i < gtimer.NumFrequencyModes; i++ {
		f, ok := control.FrequencyMode(i)
		if !ok {
			break
		}
		p.field(fmt.Sprintf("CNTFID%d", i), "%d Hz", f)
	}
	p.field("id", "%s", describeID(control.Identification()))

	if s.reader != nil {
		p.heading(fmt.Sprintf("CNTReadBase @ 0x%x", s.frames.Read.Base))
		p.field("count", "%d", s.reader.Count())
	}

	p.heading(fmt.Sprintf("CNTCTLBase @ 0x%x", s.frames.Ctl.Base))
	p.field("frequency", "%d Hz", s.ctl.Frequency())
	for i := 0; i < gtimer.NumFrames; i++ {
		features := s.ctl.Features(i)
		if !features.Has(gtimer.FeaturesImplemented) {
			continue
		}
		p.field(fmt.Sprintf("frame %d", i), "%v non-secure=%t CNTACR=%v CNTVOFF=%d",
			features, s.ctl.NonSecureAccess(i), s.ctl.AccessControl(i), s.ctl.VirtualOffset(i))
	}

	for _, fc := range s.board.Frames {
		if err := c.frameInfo(p, s, fc.Index); err != nil {
			return err
		}
	}
	return nil
}

func (c *gtimerCmd) frameInfo(p *printer, s *system, index int) error {
	cnt, err := s.cnt(index)
	if err != nil {
		return err
	}
	defer cnt.Release()

	tf, _ := s.frames.Timer(index)
	p.heading(fmt.Sprintf("CNTBase%d @ 0x%x", index, tf.Base.Base))
	p.field("CNTPCT", "%d", cnt.PhysicalCount())
	p.field("CNTVCT", "%d", cnt.VirtualCount())
	p.field("CNTFRQ", "%d Hz", cnt.Frequency())
	p.field("CNTEL0ACR", "%v", cnt.EL0Access())

	timers := []timerView{{"physical", cnt.PhysicalTimer}}
	if s.ctl.Features(index).Has(gtimer.FeaturesVirtual) {
		timers = append(timers, timerView{"virtual", cnt.VirtualTimer})
	}
	for _, t := range timers {
		timer := t.open()
		p.field(t.name, "CVAL=%d TVAL=%d CTL=%v", timer.Compare(), timer.TimerValue(), timer.Control())
		timer.Release()
	}

	el0, err := s.cntEl0(index)
	if err != nil {
		return err
	}
	if el0 != nil {
		defer el0.Release()
		p.heading(fmt.Sprintf("CNTEL0Base%d @ 0x%x", index, tf.EL0.Base))
		p.field("CNTPCT", "%d", el0.PhysicalCount())
		p.field("CNTVCT", "%d", el0.VirtualCount())
		p.field("CNTFRQ", "%d Hz", el0.Frequency())
	}
	return nil
}

type timerView struct {
	name string
	open func() *gtimer.Timer
}

func describeID(id gtimer.Identification) string {
	return fmt.Sprintf("part 0x%03x revision %d", id.PartNumber(), id.Revision())
}
