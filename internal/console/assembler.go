package console

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultAssemblyCapacity is the longest line, in bytes, assembled before
	// it is cut.
	DefaultAssemblyCapacity = 2048

	// TruncationMarker is appended to a line that was cut at capacity.
	TruncationMarker = "…"
)

// EmitFunc receives a complete line. truncated is true when the line was cut
// at capacity and carries TruncationMarker.
type EmitFunc func(line string, truncated bool)

// Assembler joins output fragments into lines. It is not safe for concurrent
// use.
type Assembler struct {
	buf      []byte
	capacity int
}

// NewAssembler creates an assembler with the given line capacity in bytes.
func NewAssembler(capacity int) *Assembler {
	if capacity <= 0 {
		capacity = DefaultAssemblyCapacity
	}
	return &Assembler{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends a fragment and emits every line it completes. A line that
// would exceed capacity is emitted in pieces, each ending in TruncationMarker,
// and the remainder keeps assembling.
func (a *Assembler) Write(fragment string, emit EmitFunc) {
	for len(fragment) > 0 {
		idx := strings.IndexByte(fragment, '\n')
		if idx < 0 {
			a.append(fragment, emit)
			return
		}

		a.append(fragment[:idx], emit)
		line := strings.TrimSuffix(string(a.buf), "\r")
		a.buf = a.buf[:0]
		emit(line, false)
		fragment = fragment[idx+1:]
	}
}

func (a *Assembler) append(chunk string, emit EmitFunc) {
	for len(a.buf)+len(chunk) > a.capacity {
		cut := a.capacity - len(a.buf)
		for cut > 0 && cut < len(chunk) && !utf8.RuneStart(chunk[cut]) {
			cut--
		}
		if cut == 0 && len(a.buf) == 0 {
			cut = a.capacity
		}

		a.buf = append(a.buf, chunk[:cut]...)
		line := string(a.buf) + TruncationMarker
		a.buf = a.buf[:0]
		emit(line, true)
		chunk = chunk[cut:]
	}
	a.buf = append(a.buf, chunk...)
}

// Flush emits a pending partial line, if any.
func (a *Assembler) Flush(emit EmitFunc) {
	if len(a.buf) == 0 {
		return
	}
	line := string(a.buf)
	a.buf = a.buf[:0]
	emit(line, false)
}

// Len returns the number of bytes waiting for a line terminator.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// Capacity returns the line capacity in bytes.
func (a *Assembler) Capacity() int {
	return a.capacity
}

// Reset discards any partial line.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}
