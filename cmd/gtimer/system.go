package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/gtimer"
	"github.com/tinyrange/gtimer/internal/board"
	"github.com/tinyrange/gtimer/internal/chipset"
	"github.com/tinyrange/gtimer/internal/sim"
	"github.com/tinyrange/gtimer/mmio"
)

type systemOptions struct {
	simulate bool
	devMem   string
	enable   bool
}

// system owns the mapped frames and the drivers over the control frames.
type system struct {
	board  *board.Board
	frames *board.Frames
	device *sim.Device       // nil unless simulating
	bus    *chipset.Chipset // routes peek and poke to the simulator
	irqs   *irqWatcher

	control *gtimer.Control
	reader  *gtimer.Reader // nil when the board has no CNTReadBase
	ctl     *gtimer.Ctl
}

func openSystem(b *board.Board, opts systemOptions) (*system, error) {
	space := mmio.NewAddressSpace()
	space.DevMem = opts.devMem

	s := &system{board: b, irqs: newIRQWatcher()}
	var err error
	if opts.simulate {
		s.frames, err = board.Allocate(space, b)
	} else {
		s.frames, err = board.Map(space, b)
	}
	if err != nil {
		return nil, err
	}
	if err := s.init(opts); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *system) init(opts systemOptions) error {
	if opts.simulate {
		device, err := sim.New(s.board, s.frames, sim.Options{Lines: chipset.NewLineSet(s.irqs)})
		if err != nil {
			return err
		}
		s.device = device
		builder := chipset.NewBuilder()
		if err := builder.RegisterDevice("gtimer", device); err != nil {
			return err
		}
		s.bus = builder.Build()
		if err := s.bus.Start(); err != nil {
			return err
		}
	}

	controlRegs, err := mmio.Overlay[gtimer.CntControlBase](s.frames.Control)
	if err != nil {
		return err
	}
	s.control = gtimer.NewControl(controlRegs)

	ctlRegs, err := mmio.Overlay[gtimer.CntCtlBase](s.frames.Ctl)
	if err != nil {
		return err
	}
	s.ctl = gtimer.NewCtl(ctlRegs)

	if s.frames.Read != nil {
		readRegs, err := mmio.Overlay[gtimer.CntReadBase](s.frames.Read)
		if err != nil {
			return err
		}
		s.reader = gtimer.NewReader(readRegs)
	}

	if !s.control.Enabled() && opts.enable {
		s.control.SetEnable(true)
		slog.Info("enabled system counter")
	}
	return nil
}

// cnt overlays the CNTBase frame index. The caller releases it.
func (s *system) cnt(index int) (*gtimer.Cnt, error) {
	tf, ok := s.frames.Timer(index)
	if !ok {
		return nil, fmt.Errorf("board %s has no frame %d", s.board.Name, index)
	}
	regs, err := mmio.Overlay[gtimer.CntBase](tf.Base)
	if err != nil {
		return nil, err
	}
	return gtimer.NewCnt(regs), nil
}

// cntEl0 overlays the CNTEL0Base view of frame index, if the board has one.
func (s *system) cntEl0(index int) (*gtimer.CntEl0, error) {
	tf, ok := s.frames.Timer(index)
	if !ok || tf.EL0 == nil {
		return nil, nil
	}
	regs, err := mmio.Overlay[gtimer.CntEl0Base](tf.EL0)
	if err != nil {
		return nil, err
	}
	return gtimer.NewCntEl0(regs), nil
}

func (s *system) Close() error {
	if s.bus != nil {
		if err := s.bus.Stop(); err != nil {
			slog.Warn("stopping simulator", "error", err)
		}
	}
	if s.control != nil {
		s.control.Release()
	}
	if s.ctl != nil {
		s.ctl.Release()
	}
	if s.reader != nil {
		s.reader.Release()
	}
	return s.frames.Close()
}

// irqWatcher records interrupt line changes from the simulator.
type irqWatcher struct {
	mu      sync.Mutex
	waiters map[uint32][]chan struct{}
}

func newIRQWatcher() *irqWatcher {
	return &irqWatcher{waiters: make(map[uint32][]chan struct{})}
}

// SetIRQ implements chipset.InterruptSink.
func (w *irqWatcher) SetIRQ(line uint32, level bool) {
	slog.Debug("interrupt line", "irq", line, "level", level)
	if !level {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.waiters[line] {
		close(ch)
	}
	delete(w.waiters, line)
}

// raised returns a channel closed the next time line goes high.
func (w *irqWatcher) raised(line uint32) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.waiters[line] = append(w.waiters[line], ch)
	return ch
}

// access reads or writes the register at addr. With a simulator the access
// goes through the chipset, otherwise straight to the mapped frame.
func (s *system) access(addr uint64, data []byte, isWrite bool) error {
	if s.bus != nil {
		return s.bus.HandleMMIO(addr, data, isWrite)
	}
	for _, r := range s.frames.Regions() {
		if !r.Contains(addr) {
			continue
		}
		off := addr - r.Base
		if off%uint64(len(data)) != 0 {
			return fmt.Errorf("unaligned %d-byte access at 0x%x", len(data), addr)
		}
		switch {
		case len(data) == 8 && isWrite:
			r.Store64(off, binary.LittleEndian.Uint64(data))
		case len(data) == 8:
			binary.LittleEndian.PutUint64(data, r.Load64(off))
		case isWrite:
			r.Store32(off, binary.LittleEndian.Uint32(data))
		default:
			binary.LittleEndian.PutUint32(data, r.Load32(off))
		}
		return nil
	}
	return fmt.Errorf("address 0x%x is not in any timer frame", addr)
}
