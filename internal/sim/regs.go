package sim

import "github.com/tinyrange/gtimer"

// CNTControlBase register offsets
const (
	regCNTCR  = 0x000
	regCNTSR  = 0x004
	regCNTCV  = 0x008
	regCNTSCR = 0x010
	regCNTID  = 0x01c
	regCNTFID = 0x020 // 40 entries, zero terminated
)

// CNTReadBase register offsets
const (
	regReadCNTCV = 0x000
)

// CNTCTLBase register offsets
const (
	regCNTFRQ  = 0x000
	regCNTNSAR = 0x004
	regCNTTIDR = 0x008
	regCNTACR  = 0x040 // one word per frame
	regCNTVOFF = 0x080 // one doubleword per frame
)

// CNTBase<n> and CNTEL0Base<n> register offsets
const (
	regCNTPCT    = 0x000
	regCNTVCT    = 0x008
	regFrameFRQ  = 0x010
	regCNTEL0ACR = 0x014
	regFrameVOFF = 0x018
	regCNTP      = 0x020
	regCNTV      = 0x030

	timerCVAL = 0x0
	timerTVAL = 0x8
	timerCTL  = 0xc
)

const (
	regCounterID = 0xfd0

	fcShift = 8

	// CNTSCR is a 8.24 fixed point multiplier.
	scaleShift = 24
	scaleOne   = 1 << scaleShift

	cntidScaling = 0x1

	// CNTTIDR holds one 8-bit feature field per frame in 32 bits.
	tidrFrames = 4

	// CNTACR reset value: every access permitted.
	acrAll = gtimer.CntAcrRPCT | gtimer.CntAcrRVCT | gtimer.CntAcrRFRQ |
		gtimer.CntAcrRVOFF | gtimer.CntAcrRWVT | gtimer.CntAcrRWPT

	ctlWritable = gtimer.TimerControlEnable | gtimer.TimerControlIMask
)

// Peripheral and component ID values written at 0xfd0, in register order
// PIDR4-7, PIDR0-3, CIDR0-3. They decode to part 0x101, revision 1, designer
// Arm.
var counterID = [12]uint32{
	0x04, 0x00, 0x00, 0x00,
	0x01, 0xb1, 0x1b, 0x00,
	0x0d, 0xf0, 0x05, 0xb1,
}

type frameKind int

const (
	kindControl frameKind = iota
	kindRead
	kindCtl
	kindBase
	kindEL0
)

func (k frameKind) String() string {
	switch k {
	case kindControl:
		return "CNTControlBase"
	case kindRead:
		return "CNTReadBase"
	case kindCtl:
		return "CNTCTLBase"
	case kindBase:
		return "CNTBase"
	case kindEL0:
		return "CNTEL0Base"
	default:
		return "unknown"
	}
}

type span struct{ start, end uint64 }

// writable lists the byte ranges of each frame a write may change. Writes
// anywhere else are ignored.
var writable = map[frameKind][]span{
	kindControl: {
		{regCNTCR, regCNTCR + 4},
		{regCNTCV, regCNTCV + 8},
		{regCNTSCR, regCNTSCR + 4},
		{regCNTFID, regCNTFID + 4*gtimer.NumFrequencyModes},
	},
	kindCtl: {
		{regCNTFRQ, regCNTFRQ + 4},
		{regCNTNSAR, regCNTNSAR + 4},
		{regCNTACR, regCNTACR + 4*gtimer.NumFrames},
		{regCNTVOFF, regCNTVOFF + 8*gtimer.NumFrames},
	},
	kindBase: {
		{regCNTEL0ACR, regCNTEL0ACR + 4},
		{regCNTP, regCNTV + 0x10},
	},
	kindEL0: {
		{regCNTP, regCNTV + 0x10},
	},
}

func isWritable(kind frameKind, off, size uint64) bool {
	for _, s := range writable[kind] {
		if off >= s.start && off+size <= s.end {
			return true
		}
	}
	return false
}
