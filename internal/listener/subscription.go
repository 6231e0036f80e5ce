package listener

import (
	"sync/atomic"

	"github.com/dshills/patchbay/internal/native"
)

// Listener receives events dispatched to an identity it subscribed to.
type Listener interface {
	OnEvent(id native.ID, name string, payload native.Atoms)
}

// ListenerFunc adapts a function to the Listener interface.
// A ListenerFunc is a value, not an object, so it cannot be held weakly;
// wrap it in a struct pointer to subscribe it.
type ListenerFunc func(id native.ID, name string, payload native.Atoms)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(id native.ID, name string, payload native.Atoms) {
	f(id, name, payload)
}

// State represents the state of a subscription.
type State int32

const (
	// StateActive means the subscription receives events.
	StateActive State = iota

	// StateCancelled means the subscription was removed, either explicitly
	// or because its identity or listener went away.
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is one (identity, listener) entry.
type Subscription struct {
	id       string
	identity native.ID

	// key is the listener's weak.Pointer, comparable for Unsubscribe.
	key any
	get func() Listener

	state atomic.Int32
	reg   *Registry
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Identity returns the identity this subscription listens to.
func (s *Subscription) Identity() native.ID {
	return s.identity
}

// State returns the current subscription state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// IsActive returns true if the subscription can receive events.
func (s *Subscription) IsActive() bool {
	return s.State() == StateActive
}

// Listener returns the listener if it has not been collected.
func (s *Subscription) Listener() (Listener, bool) {
	l := s.get()
	return l, l != nil
}

// Cancel removes the subscription from its registry. Idempotent.
func (s *Subscription) Cancel() {
	if s.reg != nil {
		s.reg.Remove(s.id)
	}
}

func (s *Subscription) cancel() bool {
	return s.state.CompareAndSwap(int32(StateActive), int32(StateCancelled))
}
