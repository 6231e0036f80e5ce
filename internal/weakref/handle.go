package weakref

import (
	"sync/atomic"

	"github.com/dshills/patchbay/internal/native"
)

// InvalidateFunc is called once when the object behind a handle is destroyed.
type InvalidateFunc func(id native.ID)

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithOnInvalidate registers a callback run when the identity is destroyed.
// It is not called when the handle is explicitly unregistered.
// Registry.InvalidateAll runs it on the destroying goroutine, which may be
// the engine's; it must not block there. Registry.InvalidateAllVia hands it
// to another goroutine instead.
func WithOnInvalidate(fn InvalidateFunc) HandleOption {
	return func(h *Handle) {
		h.onInvalidate = fn
	}
}

// Handle is a non-owning observer of one engine object.
//
// The id, view and onInvalidate fields are guarded by the owning Registry's
// mutex. alive is atomic so it can be sampled without the lock for
// diagnostics, but it is only ever written with the lock held.
type Handle struct {
	id           native.ID
	view         any
	onInvalidate InvalidateFunc
	alive        atomic.Bool
	bound        bool
}

// NewHandle creates an unregistered handle carrying a view of the object.
// The view is what Deref returns while the handle is alive; it should be a
// front-end-side description of the object, never owning memory.
func NewHandle(view any, opts ...HandleOption) *Handle {
	h := &Handle{view: view}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// kill marks the handle dead. Caller holds the registry mutex.
func (h *Handle) kill() InvalidateFunc {
	if !h.alive.Load() {
		return nil
	}
	h.alive.Store(false)
	h.view = nil
	fn := h.onInvalidate
	h.onInvalidate = nil
	return fn
}

// Ref is a typed handle bound to a Registry.
type Ref[T any] struct {
	reg *Registry
	h   *Handle
}

// Track creates a handle for view, registers it under id, and returns a typed
// reference to it.
func Track[T any](r *Registry, id native.ID, view T, opts ...HandleOption) (*Ref[T], error) {
	h := NewHandle(view, opts...)
	if err := r.Register(id, h); err != nil {
		return nil, err
	}
	return &Ref[T]{reg: r, h: h}, nil
}

// ID returns the identity the reference observes.
func (r *Ref[T]) ID() native.ID {
	return r.reg.IdentityOf(r.h)
}

// Handle returns the underlying untyped handle.
func (r *Ref[T]) Handle() *Handle {
	return r.h
}

// Alive reports whether the referent is still alive.
func (r *Ref[T]) Alive() bool {
	return r.reg.IsAlive(r.h)
}

// Get returns the view if the referent is alive.
func (r *Ref[T]) Get() (T, bool) {
	var zero T
	v, ok := r.reg.Deref(r.h)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Do runs fn with the view while the referent is pinned alive.
// Returns false without calling fn if the referent is gone.
func (r *Ref[T]) Do(fn func(T)) bool {
	return r.reg.Do(r.h, func(v any) {
		if t, ok := v.(T); ok {
			fn(t)
		}
	})
}

// Release unregisters the reference. Safe to call more than once.
func (r *Ref[T]) Release() {
	r.reg.Unregister(r.reg.IdentityOf(r.h), r.h)
}
