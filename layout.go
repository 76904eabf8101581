package gtimer

import (
	"unsafe"

	"github.com/tinyrange/gtimer/mmio"
)

// FrameSize is the size of every Generic Timer frame.
const FrameSize = 0x1000

// Per-frame tables in CNTCTLBase hold one entry for each of the eight
// possible CNTBase<n> frames.
const (
	NumFrames         = 8
	NumFrequencyModes = 40
)

// Identification is the block of twelve ID registers at 0xfd0 of every frame.
type Identification [12]uint32

// PartNumber decodes the part number from CounterID4 and CounterID5 (PIDR0,
// PIDR1).
func (id Identification) PartNumber() uint16 {
	return uint16(id[4]&0xff) | uint16(id[5]&0xf)<<8
}

// Revision decodes the revision from CounterID6 (PIDR2).
func (id Identification) Revision() uint8 {
	return uint8(id[6]>>4) & 0xf
}

type counterID [12]mmio.ReadPure[uint32]

func (c *counterID) read() Identification {
	var id Identification
	for i := range c {
		id[i] = c[i].Read()
	}
	return id
}

// CntControlBase is the CNTControlBase frame (Arm ARM table I2-1).
type CntControlBase struct {
	cntcr     mmio.ReadPureWrite[CntCr]                     // 0x000 Counter Control Register
	cntsr     mmio.ReadPure[CntSr]                          // 0x004 Counter Status Register
	cntcv     mmio.ReadPureWrite[uint64]                    // 0x008 Counter Count Value
	cntscr    mmio.ReadPureWrite[uint32]                    // 0x010 Counter Scale Register
	_         [2]uint32                                     // 0x014
	cntid     mmio.ReadPure[CntId]                          // 0x01c Counter ID Register
	cntfid    [NumFrequencyModes]mmio.ReadPureWrite[uint32] // 0x020 Frequency modes table
	_         [16]uint32                                    // 0x0c0 implementation defined
	_         [948]uint32                                   // 0x100
	counterID counterID                                     // 0xfd0 Counter ID registers
}

// CntReadBase is the CNTReadBase frame (Arm ARM table I2-2).
type CntReadBase struct {
	cntcv     mmio.ReadPure[uint64] // 0x000 Counter Count Value
	_         [1010]uint32          // 0x008
	counterID counterID             // 0xfd0 Counter ID registers
}

// CntCtlBase is the CNTCTLBase frame (Arm ARM table I2-3).
type CntCtlBase struct {
	cntfrq    mmio.ReadPureWrite[uint32]            // 0x000 Counter-timer Frequency
	cntnsar   mmio.ReadPureWrite[uint32]            // 0x004 Non-secure Access Register
	cnttidr   mmio.ReadPure[uint32]                 // 0x008 Timer ID Register
	_         [13]uint32                            // 0x00c
	cntacr    [NumFrames]mmio.ReadPureWrite[CntAcr] // 0x040 Access Control Registers
	_         [8]uint32                             // 0x060
	cntvoff   [NumFrames]mmio.ReadPureWrite[uint64] // 0x080 Virtual Offsets
	_         [16]uint32                            // 0x0c0
	_         [448]uint32                           // 0x100 implementation defined
	_         [496]uint32                           // 0x800
	_         [4]uint32                             // 0xfc0 implementation defined
	counterID counterID                             // 0xfd0 Counter ID registers
}

// TimerRegs is the register group of one physical or virtual timer inside a
// CNTBase or CNTEL0Base frame.
type TimerRegs struct {
	cval mmio.ReadPureWrite[uint64]       // 0x0 CompareValue
	tval mmio.ReadPureWrite[uint32]       // 0x8 TimerValue
	ctl  mmio.ReadPureWrite[TimerControl] // 0xc Control
}

// CntBase is a CNTBase<n> frame (Arm ARM table I2-4).
type CntBase struct {
	cntpct    mmio.ReadPure[uint64]         // 0x000 Physical Count
	cntvct    mmio.ReadPure[uint64]         // 0x008 Virtual Count
	cntfrq    mmio.ReadPure[uint32]         // 0x010 Frequency
	cntel0acr mmio.ReadPureWrite[CntEl0Acr] // 0x014 EL0 Access Control Register
	cntvoff   mmio.ReadPure[uint64]         // 0x018 Virtual Offset
	cntp      TimerRegs                     // 0x020 physical timer
	cntv      TimerRegs                     // 0x030 virtual timer
	_         [996]uint32                   // 0x040
	counterID counterID                     // 0xfd0 Counter ID registers
}

// CntEl0Base is the CNTEL0Base<n> view of a frame. CNTEL0ACR and CNTVOFF are
// not visible; the CNTEL0ACR of the matching CntBase controls access to the
// timers.
type CntEl0Base struct {
	cntpct    mmio.ReadPure[uint64] // 0x000 Physical Count
	cntvct    mmio.ReadPure[uint64] // 0x008 Virtual Count
	cntfrq    mmio.ReadPure[uint32] // 0x010 Frequency
	_         [3]uint32             // 0x014
	cntp      TimerRegs             // 0x020 physical timer
	cntv      TimerRegs             // 0x030 virtual timer
	_         [996]uint32           // 0x040
	counterID counterID             // 0xfd0 Counter ID registers
}

// Each layout must cover exactly one frame.
var (
	_ [FrameSize - unsafe.Sizeof(CntControlBase{})]struct{}
	_ [unsafe.Sizeof(CntControlBase{}) - FrameSize]struct{}
	_ [FrameSize - unsafe.Sizeof(CntReadBase{})]struct{}
	_ [unsafe.Sizeof(CntReadBase{}) - FrameSize]struct{}
	_ [FrameSize - unsafe.Sizeof(CntCtlBase{})]struct{}
	_ [unsafe.Sizeof(CntCtlBase{}) - FrameSize]struct{}
	_ [FrameSize - unsafe.Sizeof(CntBase{})]struct{}
	_ [unsafe.Sizeof(CntBase{}) - FrameSize]struct{}
	_ [FrameSize - unsafe.Sizeof(CntEl0Base{})]struct{}
	_ [unsafe.Sizeof(CntEl0Base{}) - FrameSize]struct{}
)
