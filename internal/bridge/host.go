package bridge

import (
	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/native"
)

// Host receives engine notifications. Every method is called on the consumer
// goroutine, from Tick.
type Host interface {
	NoteOn(channel, key, velocity uint8)
	NoteOff(channel, key, velocity uint8)
	ControlChange(channel, controller, value uint8)
	ProgramChange(channel, program uint8)
	PitchBend(channel uint8, value int16)
	AfterTouch(channel, pressure uint8)
	PolyAfterTouch(channel, key, pressure uint8)
	MIDIByte(port int, b byte)

	ParameterChanged(name string, value float32)
	DSPStateChanged(on bool)
	SystemMessage(selector string, args native.Atoms)

	ConsoleBatch(batch console.Batch)
}

// NopHost ignores every notification. Embed it to implement part of Host.
type NopHost struct{}

func (NopHost) NoteOn(channel, key, velocity uint8) {}
func (NopHost) NoteOff(channel, key, velocity uint8) {}
func (NopHost) ControlChange(channel, controller, value uint8) {}
func (NopHost) ProgramChange(channel, program uint8) {}
func (NopHost) PitchBend(channel uint8, value int16) {}
func (NopHost) AfterTouch(channel, pressure uint8) {}
func (NopHost) PolyAfterTouch(channel, key, pressure uint8) {}
func (NopHost) MIDIByte(port int, b byte) {}
func (NopHost) ParameterChanged(name string, value float32) {}
func (NopHost) DSPStateChanged(on bool) {}
func (NopHost) SystemMessage(selector string, args native.Atoms) {}
func (NopHost) ConsoleBatch(batch console.Batch) {}

var _ Host = NopHost{}
