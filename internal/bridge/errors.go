package bridge

import "errors"

// Sentinel errors for the bridge.
var (
	// ErrUnsupportedMIDI is returned by PostMIDI for message types the host
	// interface does not carry (system exclusive, clock, ...).
	ErrUnsupportedMIDI = errors.New("unsupported MIDI message")
)
