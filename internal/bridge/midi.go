package bridge

import (
	"gitlab.com/gomidi/midi/v2"
)

type midiKind uint8

const (
	midiNoteOn midiKind = iota + 1
	midiNoteOff
	midiControlChange
	midiProgramChange
	midiPitchBend
	midiAfterTouch
	midiPolyAfterTouch
)

// midiEvent is a decoded channel message, small enough to capture by value.
type midiEvent struct {
	kind    midiKind
	channel uint8
	data1   uint8
	data2   uint8
	bend    int16
}

// decodeMIDI turns a channel voice message into a midiEvent.
func decodeMIDI(msg midi.Message) (midiEvent, bool) {
	var ev midiEvent
	var absolute uint16
	switch {
	case msg.GetNoteOn(&ev.channel, &ev.data1, &ev.data2):
		ev.kind = midiNoteOn
	case msg.GetNoteOff(&ev.channel, &ev.data1, &ev.data2):
		ev.kind = midiNoteOff
	case msg.GetControlChange(&ev.channel, &ev.data1, &ev.data2):
		ev.kind = midiControlChange
	case msg.GetProgramChange(&ev.channel, &ev.data1):
		ev.kind = midiProgramChange
	case msg.GetPitchBend(&ev.channel, &ev.bend, &absolute):
		ev.kind = midiPitchBend
	case msg.GetAfterTouch(&ev.channel, &ev.data1):
		ev.kind = midiAfterTouch
	case msg.GetPolyAfterTouch(&ev.channel, &ev.data1, &ev.data2):
		ev.kind = midiPolyAfterTouch
	default:
		return ev, false
	}
	return ev, true
}

// deliver routes the event to the matching Host method.
func (ev midiEvent) deliver(h Host) {
	switch ev.kind {
	case midiNoteOn:
		h.NoteOn(ev.channel, ev.data1, ev.data2)
	case midiNoteOff:
		h.NoteOff(ev.channel, ev.data1, ev.data2)
	case midiControlChange:
		h.ControlChange(ev.channel, ev.data1, ev.data2)
	case midiProgramChange:
		h.ProgramChange(ev.channel, ev.data1)
	case midiPitchBend:
		h.PitchBend(ev.channel, ev.bend)
	case midiAfterTouch:
		h.AfterTouch(ev.channel, ev.data1)
	case midiPolyAfterTouch:
		h.PolyAfterTouch(ev.channel, ev.data1, ev.data2)
	}
}

// PostMIDI defers a MIDI channel message to the host.
// Returns ErrUnsupportedMIDI for non-channel messages.
func (b *Bridge) PostMIDI(msg midi.Message) error {
	ev, ok := decodeMIDI(msg)
	if !ok {
		return ErrUnsupportedMIDI
	}
	if err := b.queue.Enqueue(func() { ev.deliver(b.host) }); err != nil {
		return err
	}
	b.midiIn.Add(1)
	return nil
}

// NoteOn posts a note-on. A velocity of zero is delivered as note-on with
// velocity zero, not rewritten to note-off.
func (b *Bridge) NoteOn(channel, key, velocity uint8) error {
	return b.PostMIDI(midi.NoteOn(channel, key, velocity))
}

// NoteOff posts a note-off.
func (b *Bridge) NoteOff(channel, key uint8) error {
	return b.PostMIDI(midi.NoteOff(channel, key))
}

// ControlChange posts a control change.
func (b *Bridge) ControlChange(channel, controller, value uint8) error {
	return b.PostMIDI(midi.ControlChange(channel, controller, value))
}

// ProgramChange posts a program change.
func (b *Bridge) ProgramChange(channel, program uint8) error {
	return b.PostMIDI(midi.ProgramChange(channel, program))
}

// PitchBend posts a pitch bend; value is relative to centre, -8192..8191.
func (b *Bridge) PitchBend(channel uint8, value int16) error {
	return b.PostMIDI(midi.Pitchbend(channel, value))
}

// AfterTouch posts channel pressure.
func (b *Bridge) AfterTouch(channel, pressure uint8) error {
	return b.PostMIDI(midi.AfterTouch(channel, pressure))
}

// PolyAfterTouch posts key pressure.
func (b *Bridge) PolyAfterTouch(channel, key, pressure uint8) error {
	return b.PostMIDI(midi.PolyAfterTouch(channel, key, pressure))
}

// MIDIByte posts one raw byte of a MIDI output stream.
func (b *Bridge) MIDIByte(port int, v byte) error {
	if err := b.queue.Enqueue(func() { b.host.MIDIByte(port, v) }); err != nil {
		return err
	}
	b.midiIn.Add(1)
	return nil
}
