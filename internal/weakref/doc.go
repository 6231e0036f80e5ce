// Package weakref tracks non-owning handles to engine-owned objects.
//
// The engine owns every object named by a native.ID and destroys it on its own
// schedule. Front-end code that wants to observe such an object registers a
// Handle for the identity. When the engine announces destruction, the Registry
// invalidates every handle registered for that identity in one step.
//
// # Liveness
//
// A handle is alive from registration until it is invalidated, either by
// InvalidateAll (the object was destroyed) or by Unregister (the observer gave
// up its handle). Invalidation happens exactly once and is final.
//
// Every liveness query and dereference takes the same mutex as invalidation, so
// a reader observes a handle either fully alive (with its view) or fully
// invalid, never a half-destroyed object:
//
//	ref, _ := weakref.Track(reg, id, view)
//
//	// engine thread
//	reg.InvalidateAll(id)
//
//	// UI thread
//	if v, ok := ref.Get(); ok {
//	    // v was alive at the moment of the check
//	}
//
// Do runs a short function while the lock is held, for callers that must be
// sure the object cannot be invalidated under them. The function must not
// block or call back into the Registry.
//
// # Stale references
//
// Operations on unknown identities or already-invalidated handles are silent
// no-ops: destruction races are expected and normal.
package weakref
