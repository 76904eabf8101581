package board

import (
	"errors"
	"fmt"

	"github.com/tinyrange/gtimer/mmio"
)

// Frames holds a mapped region for every frame of a board.
type Frames struct {
	Control *mmio.Region
	Read    *mmio.Region // nil when the board has no CNTReadBase
	Ctl     *mmio.Region
	Timers  []TimerFrames
}

// TimerFrames holds the regions of CNTBase<n> and, when present,
// CNTEL0Base<n>.
type TimerFrames struct {
	Index int
	Base  *mmio.Region
	EL0   *mmio.Region
}

// Map maps every frame of b from device memory.
func Map(space *mmio.AddressSpace, b *Board) (*Frames, error) {
	return open(b, func(name string, base uint64) (*mmio.Region, error) {
		return space.Map(name, base, mmio.PageSize)
	})
}

// Allocate backs every frame of b with anonymous memory.
func Allocate(space *mmio.AddressSpace, b *Board) (*Frames, error) {
	return open(b, func(name string, base uint64) (*mmio.Region, error) {
		return space.Anonymous(name, base, mmio.PageSize)
	})
}

func open(b *Board, mapper func(name string, base uint64) (*mmio.Region, error)) (*Frames, error) {
	f := &Frames{}
	var err error
	get := func(name string, base uint64) *mmio.Region {
		if err != nil || base == 0 {
			return nil
		}
		var r *mmio.Region
		r, err = mapper(name, base)
		return r
	}

	f.Control = get("CNTControlBase", b.Control)
	f.Read = get("CNTReadBase", b.Read)
	f.Ctl = get("CNTCTLBase", b.Ctl)
	for _, fr := range b.Frames {
		t := TimerFrames{Index: fr.Index}
		t.Base = get(fmt.Sprintf("CNTBase%d", fr.Index), fr.Base)
		t.EL0 = get(fmt.Sprintf("CNTEL0Base%d", fr.Index), fr.EL0)
		f.Timers = append(f.Timers, t)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("board %s: %w", b.Name, err)
	}
	return f, nil
}

// Timer returns the regions of frame index.
func (f *Frames) Timer(index int) (TimerFrames, bool) {
	for _, t := range f.Timers {
		if t.Index == index {
			return t, true
		}
	}
	return TimerFrames{}, false
}

// Regions lists every mapped region.
func (f *Frames) Regions() []*mmio.Region {
	var rs []*mmio.Region
	add := func(r *mmio.Region) {
		if r != nil {
			rs = append(rs, r)
		}
	}
	add(f.Control)
	add(f.Read)
	add(f.Ctl)
	for _, t := range f.Timers {
		add(t.Base)
		add(t.EL0)
	}
	return rs
}

// Close unmaps every region.
func (f *Frames) Close() error {
	var errs []error
	for _, r := range f.Regions() {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
