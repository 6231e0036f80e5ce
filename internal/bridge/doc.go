// Package bridge is the engine-instance surface that connects a real-time
// engine goroutine to a front-end consumer goroutine.
//
// A Bridge owns one of each core component and injects them into each other:
// a weakref.Registry for object lifetimes, a listener.Registry for per-object
// message fan-out, a workqueue.Queue for deferring work onto the consumer, and
// a console.Batcher for textual output. Nothing is global; two bridges in one
// process are fully independent.
//
// Engine-side methods (Post, PostMIDI, NoteOn, ParameterChanged, Print, ...)
// never block. Host notifications and deferred listener dispatch run when the
// consumer calls Tick, or inside Run.
package bridge
