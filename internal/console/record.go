package console

import (
	"github.com/rivo/uniseg"

	"github.com/dshills/patchbay/internal/native"
)

// RecordPadding is added to a record's text width to form its display length.
const RecordPadding = 8

// Record is one line in the console feed.
type Record struct {
	// Origin is the engine object that produced the line, or native.Nil.
	Origin native.ID

	// Text is the message without severity markers.
	Text string

	// Severity classifies the record.
	Severity Severity

	// Seq is the ordinal, in flush order, of the line that created this
	// record. It increases along the live sequence.
	Seq uint64

	// Repeats is the number of consecutive identical lines coalesced here.
	Repeats int

	// Width is the cached display length: text cells plus RecordPadding.
	Width int
}

func newRecord(origin native.ID, text string, sev Severity, seq uint64) Record {
	return Record{
		Origin:   origin,
		Text:     text,
		Severity: sev,
		Seq:      seq,
		Repeats:  1,
		Width:    uniseg.StringWidth(text) + RecordPadding,
	}
}

// matches reports whether a line would coalesce into r.
func (r Record) matches(origin native.ID, text string, sev Severity) bool {
	return r.Origin == origin && r.Severity == sev && r.Text == text
}

// RepeatOffset returns the horizontal space reserved for a repeat badge.
// Two digits fit the 21-unit baseline; each further digit adds 10.
func RepeatOffset(repeats int) int {
	if repeats <= 0 {
		return 0
	}
	digits := 0
	for n := repeats; n > 0; n /= 10 {
		digits++
	}
	if digits <= 2 {
		return 21
	}
	return 21 + (digits-2)*10
}

// LayoutWidth returns the display length including the repeat badge.
func (r Record) LayoutWidth() int {
	return r.Width + RepeatOffset(r.Repeats)
}

// Lines estimates how many lines the record wraps to at the given width.
func (r Record) Lines(width int) int {
	if width <= 0 {
		return 1
	}
	n := (r.LayoutWidth() + width - 1) / width
	if n < 1 {
		return 1
	}
	return n
}

// Filter selects which severities are visible.
type Filter struct {
	// ShowMessages shows info records.
	ShowMessages bool

	// ShowErrors shows warning and error records.
	ShowErrors bool
}

// ShowAll is a filter that hides nothing.
var ShowAll = Filter{ShowMessages: true, ShowErrors: true}

// Visible reports whether r passes the filter.
func (f Filter) Visible(r Record) bool {
	if r.Severity.IsProblem() {
		return f.ShowErrors
	}
	return f.ShowMessages
}

// Layout holds the vertical metrics used by TotalHeight.
type Layout struct {
	// LineHeight is the height of one wrapped line.
	LineHeight int

	// RowPadding is added once per record.
	RowPadding int

	// Margin is added once per view.
	Margin int
}

// DefaultLayout matches the graphical console's metrics.
var DefaultLayout = Layout{LineHeight: 13, RowPadding: 12, Margin: 8}

// CellLayout counts terminal rows: one per wrapped line.
var CellLayout = Layout{LineHeight: 1}

// Height returns the height of r at the given width.
func (l Layout) Height(r Record, width int) int {
	return r.Lines(width)*l.LineHeight + l.RowPadding
}
