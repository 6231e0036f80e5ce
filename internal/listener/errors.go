package listener

import (
	"errors"
	"fmt"

	"github.com/dshills/patchbay/internal/native"
)

// Sentinel errors for the listener registry.
var (
	// ErrNilListener is returned when subscribing a nil listener.
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrNilIdentity is returned when subscribing to the null identity.
	ErrNilIdentity = errors.New("identity cannot be nil")

	// ErrListenerPanic is matched by ListenerError.
	ErrListenerPanic = errors.New("listener panicked")
)

// ListenerError reports a listener that panicked during dispatch.
type ListenerError struct {
	// SubscriptionID identifies the subscription whose listener failed.
	SubscriptionID string

	// Identity is the identity the event was dispatched to.
	Identity native.ID

	// Event is the event name.
	Event string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s panicked on %s %q: %v", e.SubscriptionID, e.Identity, e.Event, e.Value)
}

// Is allows errors.Is to match ListenerError with ErrListenerPanic.
func (e *ListenerError) Is(target error) bool {
	return target == ErrListenerPanic
}
