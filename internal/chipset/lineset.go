package chipset

import "sync"

// InterruptSink receives level changes of numbered interrupt lines.
type InterruptSink interface {
	SetIRQ(line uint32, level bool)
}

// InterruptSinkFunc adapts a function to InterruptSink.
type InterruptSinkFunc func(line uint32, level bool)

// SetIRQ implements InterruptSink.
func (f InterruptSinkFunc) SetIRQ(line uint32, level bool) { f(line, level) }

// LineSet hands out LineInterrupt handles and forwards level changes to a
// sink. Repeated writes of the same level are filtered.
type LineSet struct {
	mu sync.Mutex

	sink  InterruptSink
	lines map[uint32]bool
}

// NewLineSet builds a LineSet that forwards to sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint32]bool),
	}
}

// AllocateLine returns a LineInterrupt handle for line.
func (l *LineSet) AllocateLine(line uint32) LineInterrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[line]; !ok {
		l.lines[line] = false
	}
	return &lineHandle{owner: l, line: line}
}

// Level reports the current level of line.
func (l *LineSet) Level(line uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines[line]
}

type lineHandle struct {
	owner *LineSet
	line  uint32
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.line, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.sink.SetIRQ(h.line, true)
	h.owner.sink.SetIRQ(h.line, false)
}

func (l *LineSet) setLevel(line uint32, high bool) {
	l.mu.Lock()
	changed := l.lines[line] != high
	l.lines[line] = high
	l.mu.Unlock()

	if changed {
		l.sink.SetIRQ(line, high)
	}
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetIRQ(uint32, bool) {}
