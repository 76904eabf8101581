package gtimer

import (
	"fmt"
	"strings"
)

// CntCr is the Counter Control Register (CNTCR).
type CntCr uint32

// CntSr is the Counter Status Register (CNTSR).
type CntSr uint32

// CntId is the Counter Identification Register (CNTID).
type CntId uint32

// CntAcr is a Counter-timer Access Control Register (CNTACR<n>).
type CntAcr uint32

// Features is one frame's slice of CNTTIDR, the Counter-timer Timer ID
// Register.
type Features uint8

// CntEl0Acr is the Counter-timer EL0 Access Control Register (CNTEL0ACR).
type CntEl0Acr uint32

// TimerControl is the control register shared by the physical and virtual
// timers (CNTP_CTL and CNTV_CTL).
type TimerControl uint32

const (
	CntCrEN   CntCr = 1 << 0 // system counter enabled
	CntCrHDBG CntCr = 1 << 1 // halt on debug
	CntCrSCEN CntCr = 1 << 2 // scaling enabled, needs FEAT_CNTSC
)

const (
	CntSrHDBG CntSr = 1 << 1 // halted on debug
)

const (
	CntAcrRPCT  CntAcr = 1 << 0 // read CNTPCT
	CntAcrRVCT  CntAcr = 1 << 1 // read CNTVCT
	CntAcrRFRQ  CntAcr = 1 << 2 // read CNTFRQ
	CntAcrRVOFF CntAcr = 1 << 3 // read CNTVOFF
	CntAcrRWVT  CntAcr = 1 << 4 // read/write the virtual timer registers
	CntAcrRWPT  CntAcr = 1 << 5 // read/write the EL1 physical timer registers
)

const (
	FeaturesImplemented Features = 1 << 0 // frame<n> is implemented
	FeaturesVirtual     Features = 1 << 1 // frame<n> has the virtual timer and CNTVOFF
	FeaturesCntEL0Base  Features = 1 << 2 // frame<n> has a second view, CNTEL0Base<n>

	featuresKnown = FeaturesImplemented | FeaturesVirtual | FeaturesCntEL0Base
)

const (
	CntEl0AcrEL0PCTEN CntEl0Acr = 1 << 0 // second view reads CNTPCT and CNTFRQ
	CntEl0AcrEL0VCTEN CntEl0Acr = 1 << 1 // second view reads CNTVCT and CNTFRQ
	CntEl0AcrEL0VTEN  CntEl0Acr = 1 << 8 // second view reads CNTV_CVAL, CNTV_TVAL and CNTV_CTL
	CntEl0AcrEL0PTEN  CntEl0Acr = 1 << 9 // second view reads CNTP_CVAL, CNTP_TVAL and CNTP_CTL
)

const (
	TimerControlEnable  TimerControl = 1 << 0 // timer enabled
	TimerControlIMask   TimerControl = 1 << 1 // interrupt masked
	TimerControlIStatus TimerControl = 1 << 2 // timer condition met
)

// FCREQ in CNTCR and FCACK in CNTSR share a position.
const (
	fcMask  = 0x3ff
	fcShift = 8
)

const (
	cntscMask        = 0b1111
	cntscImplemented = 0b0001
)

// Has reports whether every bit of f is set.
func (c CntCr) Has(f CntCr) bool { return c&f == f }

// Set returns c with f set or cleared.
func (c CntCr) Set(f CntCr, on bool) CntCr { return setFlag(c, f, on) }

// WithFCReq returns c with the FCREQ field set to index. Only the low ten
// bits of index are kept; every other bit of c is preserved.
func (c CntCr) WithFCReq(index int) CntCr {
	v := uint32(c) &^ (fcMask << fcShift)
	v |= (uint32(index) & fcMask) << fcShift
	return CntCr(v)
}

// FCReq returns the frequency mode index requested in FCREQ.
func (c CntCr) FCReq() int { return int((uint32(c) >> fcShift) & fcMask) }

func (c CntCr) String() string {
	return formatFlags(c&^(fcMask<<fcShift), cntCrNames, fmt.Sprintf("FCREQ=%d", c.FCReq()))
}

// Has reports whether every bit of f is set.
func (s CntSr) Has(f CntSr) bool { return s&f == f }

// FCAck returns the frequency mode index the counter acknowledged in FCACK.
func (s CntSr) FCAck() int { return int((uint32(s) >> fcShift) & fcMask) }

func (s CntSr) String() string {
	return formatFlags(s&^(fcMask<<fcShift), cntSrNames, fmt.Sprintf("FCACK=%d", s.FCAck()))
}

// ScalingImplemented reports whether CNTSC reads as implemented. Any value
// other than 0b0001 means scaling is absent.
func (id CntId) ScalingImplemented() bool {
	return uint32(id)&cntscMask == cntscImplemented
}

func (id CntId) String() string {
	return fmt.Sprintf("CNTSC=%#x", uint32(id)&cntscMask)
}

// Has reports whether every bit of f is set.
func (a CntAcr) Has(f CntAcr) bool { return a&f == f }

// Set returns a with f set or cleared.
func (a CntAcr) Set(f CntAcr, on bool) CntAcr { return setFlag(a, f, on) }

func (a CntAcr) String() string { return formatFlags(a, cntAcrNames) }

// featuresFromBits keeps the defined feature bits of v and drops the rest.
func featuresFromBits(v uint8) Features { return Features(v) & featuresKnown }

// Has reports whether every bit of f is set.
func (f Features) Has(g Features) bool { return f&g == g }

func (f Features) String() string { return formatFlags(f, featuresNames) }

// Has reports whether every bit of f is set.
func (a CntEl0Acr) Has(f CntEl0Acr) bool { return a&f == f }

// Set returns a with f set or cleared.
func (a CntEl0Acr) Set(f CntEl0Acr, on bool) CntEl0Acr { return setFlag(a, f, on) }

func (a CntEl0Acr) String() string { return formatFlags(a, cntEl0AcrNames) }

// Has reports whether every bit of f is set.
func (t TimerControl) Has(f TimerControl) bool { return t&f == f }

// Set returns t with f set or cleared.
func (t TimerControl) Set(f TimerControl, on bool) TimerControl { return setFlag(t, f, on) }

func (t TimerControl) String() string { return formatFlags(t, timerControlNames) }

type flagBits interface {
	~uint8 | ~uint32
}

type flagName[T flagBits] struct {
	flag T
	name string
}

var (
	cntCrNames = []flagName[CntCr]{
		{CntCrEN, "EN"},
		{CntCrHDBG, "HDBG"},
		{CntCrSCEN, "SCEN"},
	}
	cntSrNames = []flagName[CntSr]{
		{CntSrHDBG, "HDBG"},
	}
	cntAcrNames = []flagName[CntAcr]{
		{CntAcrRPCT, "RPCT"},
		{CntAcrRVCT, "RVCT"},
		{CntAcrRFRQ, "RFRQ"},
		{CntAcrRVOFF, "RVOFF"},
		{CntAcrRWVT, "RWVT"},
		{CntAcrRWPT, "RWPT"},
	}
	featuresNames = []flagName[Features]{
		{FeaturesImplemented, "IMPLEMENTED"},
		{FeaturesVirtual, "VIRTUAL"},
		{FeaturesCntEL0Base, "CNTEL0BASE"},
	}
	cntEl0AcrNames = []flagName[CntEl0Acr]{
		{CntEl0AcrEL0PCTEN, "EL0PCTEN"},
		{CntEl0AcrEL0VCTEN, "EL0VCTEN"},
		{CntEl0AcrEL0VTEN, "EL0VTEN"},
		{CntEl0AcrEL0PTEN, "EL0PTEN"},
	}
	timerControlNames = []flagName[TimerControl]{
		{TimerControlEnable, "ENABLE"},
		{TimerControlIMask, "IMASK"},
		{TimerControlIStatus, "ISTATUS"},
	}
)

func setFlag[T flagBits](v, f T, on bool) T {
	if on {
		return v | f
	}
	return v &^ f
}

// formatFlags names the set flags of v, then any extra fields, then the
// leftover unnamed bits in hex.
func formatFlags[T flagBits](v T, names []flagName[T], extra ...string) string {
	var parts []string
	for _, n := range names {
		if v&n.flag != 0 {
			parts = append(parts, n.name)
			v &^= n.flag
		}
	}
	parts = append(parts, extra...)
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(v)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}
