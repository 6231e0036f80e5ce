package frontend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/bridge"
	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/native"
)

// Format selects how Plain writes records.
type Format uint8

const (
	// FormatText writes one human-readable line per record.
	FormatText Format = iota
	// FormatJSON writes one JSON object per line.
	FormatJSON
)

// Consumer is the part of a bridge a front-end drives.
type Consumer interface {
	Console() *console.Batcher
	Run(ctx context.Context, tick time.Duration) error
}

// PlainOption configures a Plain front-end.
type PlainOption func(*Plain)

// WithFormat sets the output format.
func WithFormat(f Format) PlainOption {
	return func(p *Plain) {
		p.format = f
	}
}

// WithEvents also writes MIDI and host notifications.
func WithEvents(on bool) PlainOption {
	return func(p *Plain) {
		p.events = on
	}
}

// WithPlainLogger sets the logger.
func WithPlainLogger(l *zap.Logger) PlainOption {
	return func(p *Plain) {
		if l != nil {
			p.logger = l
		}
	}
}

// Plain writes console output line by line.
type Plain struct {
	bridge.NopHost

	w      io.Writer
	format Format
	events bool
	logger *zap.Logger

	console *console.Batcher

	// Tail of what has been written. Only the newest record can grow.
	lastSeq     uint64
	lastRepeats int

	written int
	err     error
}

// NewPlain creates a Plain front-end writing to w.
func NewPlain(w io.Writer, opts ...PlainOption) *Plain {
	p := &Plain{
		w:      w,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("plain")
	return p
}

// Run drives c until ctx is done. Records flushed during shutdown are written
// before Run returns. The first write error is returned.
func (p *Plain) Run(ctx context.Context, c Consumer, tick time.Duration) error {
	p.console = c.Console()
	if err := c.Run(ctx, tick); err != nil {
		return err
	}
	return p.err
}

// Written returns the number of lines written.
func (p *Plain) Written() int {
	return p.written
}

// ConsoleBatch writes the records that are new since the last batch and the
// updated repeat count of the newest record.
func (p *Plain) ConsoleBatch(batch console.Batch) {
	if p.console == nil || p.err != nil {
		return
	}
	for _, r := range p.console.Records() {
		switch {
		case r.Seq > p.lastSeq:
			p.writeRecord(r)
		case r.Seq == p.lastSeq && r.Repeats > p.lastRepeats:
			p.writeRecord(r)
		default:
			continue
		}
		p.lastSeq = r.Seq
		p.lastRepeats = r.Repeats
	}
}

func (p *Plain) writeRecord(r console.Record) {
	if p.format == FormatJSON {
		data, err := console.RecordJSON(r)
		if err != nil {
			p.fail(err)
			return
		}
		p.writeLine(string(data))
		return
	}
	line := fmt.Sprintf("%-7s %s", r.Severity, r.Text)
	if r.Repeats > 1 {
		line += fmt.Sprintf(" (x%d)", r.Repeats)
	}
	p.writeLine(line)
}

// field is one key/value of an event line.
type field struct {
	key   string
	value any
}

func (p *Plain) writeEvent(name string, fields ...field) {
	if !p.events || p.err != nil {
		return
	}
	if p.format == FormatJSON {
		doc, err := sjson.SetBytes([]byte(`{}`), "event", name)
		for _, f := range fields {
			if err != nil {
				break
			}
			doc, err = sjson.SetBytes(doc, f.key, f.value)
		}
		if err != nil {
			p.fail(err)
			return
		}
		p.writeLine(string(doc))
		return
	}
	var sb strings.Builder
	sb.WriteString(name)
	for _, f := range fields {
		fmt.Fprintf(&sb, " %s=%v", f.key, f.value)
	}
	p.writeLine(sb.String())
}

func (p *Plain) writeLine(line string) {
	if _, err := io.WriteString(p.w, line+"\n"); err != nil {
		p.fail(err)
		return
	}
	p.written++
}

func (p *Plain) fail(err error) {
	p.err = err
	p.logger.Error("write failed", zap.Error(err))
}

// NoteOn implements bridge.Host.
func (p *Plain) NoteOn(channel, key, velocity uint8) {
	p.writeEvent("note_on", field{"channel", channel}, field{"key", key}, field{"velocity", velocity})
}

// NoteOff implements bridge.Host.
func (p *Plain) NoteOff(channel, key, velocity uint8) {
	p.writeEvent("note_off", field{"channel", channel}, field{"key", key}, field{"velocity", velocity})
}

// ControlChange implements bridge.Host.
func (p *Plain) ControlChange(channel, controller, value uint8) {
	p.writeEvent("control_change", field{"channel", channel}, field{"controller", controller}, field{"value", value})
}

// ProgramChange implements bridge.Host.
func (p *Plain) ProgramChange(channel, program uint8) {
	p.writeEvent("program_change", field{"channel", channel}, field{"program", program})
}

// PitchBend implements bridge.Host.
func (p *Plain) PitchBend(channel uint8, value int16) {
	p.writeEvent("pitch_bend", field{"channel", channel}, field{"value", value})
}

// AfterTouch implements bridge.Host.
func (p *Plain) AfterTouch(channel, pressure uint8) {
	p.writeEvent("aftertouch", field{"channel", channel}, field{"pressure", pressure})
}

// PolyAfterTouch implements bridge.Host.
func (p *Plain) PolyAfterTouch(channel, key, pressure uint8) {
	p.writeEvent("poly_aftertouch", field{"channel", channel}, field{"key", key}, field{"pressure", pressure})
}

// MIDIByte implements bridge.Host.
func (p *Plain) MIDIByte(port int, b byte) {
	p.writeEvent("midi_byte", field{"port", port}, field{"byte", b})
}

// ParameterChanged implements bridge.Host.
func (p *Plain) ParameterChanged(name string, value float32) {
	p.writeEvent("param", field{"name", name}, field{"value", value})
}

// DSPStateChanged implements bridge.Host.
func (p *Plain) DSPStateChanged(on bool) {
	p.writeEvent("dsp", field{"on", on})
}

// SystemMessage implements bridge.Host.
func (p *Plain) SystemMessage(selector string, args native.Atoms) {
	p.writeEvent("system", field{"selector", selector}, field{"args", args.String()})
}

var _ bridge.Host = (*Plain)(nil)
