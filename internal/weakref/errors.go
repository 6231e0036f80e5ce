package weakref

import "errors"

// Sentinel errors for the weak reference registry.
var (
	// ErrNilHandle is returned when a nil handle is registered.
	ErrNilHandle = errors.New("handle cannot be nil")

	// ErrNilIdentity is returned when registering against the null identity.
	ErrNilIdentity = errors.New("identity cannot be nil")

	// ErrIdentityMismatch is returned when a handle already bound to one
	// identity is registered against another.
	ErrIdentityMismatch = errors.New("handle is bound to a different identity")
)
