// Package native defines the identity tokens and payload values that cross the
// boundary between the processing engine and the front-end.
//
// An ID names an engine-owned object without granting ownership. Nothing in
// this module dereferences an ID; it is only ever used as a map key. The
// engine alone decides when the object behind an ID is created and destroyed,
// and announces destruction explicitly.
//
// Atom is the value type carried by listener messages: either a float or a
// symbol, mirroring the engine's message atoms.
package native
