// Package board describes where a system places the Generic Timer frames.
package board

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/gtimer/mmio"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for descriptions that cannot be used.
var ErrInvalid = errors.New("invalid board description")

// MaxFrames is the number of CNTBase<n> frames CNTCTLBase can describe.
const MaxFrames = 8

// Board is the physical layout of one Generic Timer.
type Board struct {
	Name string `yaml:"name"`

	// Frequency is the counter rate in Hz. The simulator runs at it and
	// programs it into CNTFID0 and CNTFRQ.
	Frequency uint32 `yaml:"frequency"`
	// Scaling marks FEAT_CNTSC as implemented.
	Scaling bool `yaml:"scaling"`
	// PollInterval is how often the simulator updates its registers.
	PollInterval Duration `yaml:"poll_interval"`

	Control uint64  `yaml:"control"`
	Read    uint64  `yaml:"read"`
	Ctl     uint64  `yaml:"ctl"`
	Frames  []Frame `yaml:"frames"`
}

// Frame places one CNTBase<n> frame and its optional CNTEL0Base<n> view.
type Frame struct {
	Index   int    `yaml:"index"`
	Base    uint64 `yaml:"base"`
	EL0     uint64 `yaml:"el0"`
	Virtual bool   `yaml:"virtual"`

	// Interrupt IDs raised by the physical and virtual timers. Zero means
	// not wired.
	PhysicalIRQ uint32 `yaml:"physical_irq"`
	VirtualIRQ  uint32 `yaml:"virtual_irq"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a single-frame board used when no description is given.
func Default() *Board {
	return &Board{
		Name:         "default",
		Frequency:    100_000_000,
		Scaling:      true,
		PollInterval: Duration(100 * time.Microsecond),
		Control:      0x2a43_0000,
		Read:         0x2a80_0000,
		Ctl:          0x2a81_0000,
		Frames: []Frame{
			{
				Index:       0,
				Base:        0x2a83_0000,
				EL0:         0x2a84_0000,
				Virtual:     true,
				PhysicalIRQ: 57,
				VirtualIRQ:  58,
			},
		},
	}
}

// Load reads and validates a board description.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("board: reading %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("board: %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a YAML board description.
func Parse(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing board: %w", err)
	}
	if b.PollInterval == 0 {
		b.PollInterval = Duration(100 * time.Microsecond)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Marshal encodes b as YAML.
func (b *Board) Marshal() ([]byte, error) {
	return yaml.Marshal(b)
}

// Validate checks that every frame is page aligned, that frame indices are
// in range and unique, and that no two frames overlap.
func (b *Board) Validate() error {
	if b.Control == 0 {
		return fmt.Errorf("%w: no CNTControlBase address", ErrInvalid)
	}
	if b.Ctl == 0 {
		return fmt.Errorf("%w: no CNTCTLBase address", ErrInvalid)
	}
	if b.PollInterval < 0 {
		return fmt.Errorf("%w: negative poll interval", ErrInvalid)
	}

	seen := make(map[int]bool, len(b.Frames))
	for _, f := range b.Frames {
		if f.Index < 0 || f.Index >= MaxFrames {
			return fmt.Errorf("%w: frame index %d out of range [0,%d)", ErrInvalid, f.Index, MaxFrames)
		}
		if seen[f.Index] {
			return fmt.Errorf("%w: frame %d listed twice", ErrInvalid, f.Index)
		}
		seen[f.Index] = true
		if f.Base == 0 {
			return fmt.Errorf("%w: frame %d has no base address", ErrInvalid, f.Index)
		}
	}

	// A scratch address space does the alignment and overlap checks.
	space := mmio.NewAddressSpace()
	for _, p := range b.placements() {
		if err := space.Reserve(p.name, p.base, mmio.PageSize); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Frame returns the description of frame index.
func (b *Board) Frame(index int) (Frame, bool) {
	for _, f := range b.Frames {
		if f.Index == index {
			return f, true
		}
	}
	return Frame{}, false
}

type placement struct {
	name string
	base uint64
}

func (b *Board) placements() []placement {
	ps := []placement{{"CNTControlBase", b.Control}}
	if b.Read != 0 {
		ps = append(ps, placement{"CNTReadBase", b.Read})
	}
	ps = append(ps, placement{"CNTCTLBase", b.Ctl})
	for _, f := range b.Frames {
		ps = append(ps, placement{fmt.Sprintf("CNTBase%d", f.Index), f.Base})
		if f.EL0 != 0 {
			ps = append(ps, placement{fmt.Sprintf("CNTEL0Base%d", f.Index), f.EL0})
		}
	}
	return ps
}
