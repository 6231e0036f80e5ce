package weakref

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/native"
)

// Registry maps engine identities to the handles observing them.
// It is safe for concurrent use by the engine and front-end goroutines.
type Registry struct {
	mu      sync.Mutex
	buckets map[native.ID][]*Handle

	logger *zap.Logger

	registered   atomic.Uint64
	unregistered atomic.Uint64
	invalidated  atomic.Uint64
	destroyed    atomic.Uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report invalidation callback panics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		buckets: make(map[native.ID][]*Handle),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("weakref")
	return r
}

// Register associates h with id and marks it alive.
// Registering an invalidated handle is a silent no-op; the handle stays dead.
// Registering the same handle twice under the same id is a no-op.
func (r *Registry) Register(id native.ID, h *Handle) error {
	if h == nil {
		return ErrNilHandle
	}
	if id.IsNil() {
		return ErrNilIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h.bound {
		if h.id != id {
			return ErrIdentityMismatch
		}
		return nil
	}

	h.id = id
	h.bound = true
	h.alive.Store(true)
	r.buckets[id] = append(r.buckets[id], h)
	r.registered.Add(1)
	return nil
}

// Unregister removes h from id and invalidates it.
// Unknown identities and handles already removed are ignored.
func (r *Registry) Unregister(id native.ID, h *Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !h.bound || h.id != id {
		return
	}

	bucket := r.buckets[id]
	for i, existing := range bucket {
		if existing == h {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.buckets, id)
	} else {
		r.buckets[id] = bucket
	}

	if h.alive.Load() {
		h.kill()
		r.unregistered.Add(1)
	}
}

// Dispatch hands an invalidation callback to the goroutine that should run
// it. It reports false if the callback was not accepted.
type Dispatch func(task func()) bool

// InvalidateAll marks every handle registered for id as dead and drops the
// identity. The engine calls it once, when the object is destroyed.
// Invalidation callbacks run after the lock is released, on the caller's
// goroutine. Returns the number of handles invalidated.
func (r *Registry) InvalidateAll(id native.ID) int {
	return r.InvalidateAllVia(id, nil)
}

// InvalidateAllVia is InvalidateAll with the callbacks handed to dispatch
// instead of run by the caller. Handles are dead before it returns either
// way. A callback dispatch refuses is run inline.
func (r *Registry) InvalidateAllVia(id native.ID, dispatch Dispatch) int {
	r.mu.Lock()
	bucket, ok := r.buckets[id]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	delete(r.buckets, id)

	callbacks := make([]InvalidateFunc, 0, len(bucket))
	for _, h := range bucket {
		if fn := h.kill(); fn != nil {
			callbacks = append(callbacks, fn)
		}
	}
	r.mu.Unlock()

	r.destroyed.Add(1)
	r.invalidated.Add(uint64(len(bucket)))

	for _, fn := range callbacks {
		if dispatch != nil && dispatch(func() { r.runCallback(id, fn) }) {
			continue
		}
		if dispatch != nil {
			r.logger.Warn("invalidate callback not dispatched, running inline",
				zap.Stringer("identity", id))
		}
		r.runCallback(id, fn)
	}
	return len(bucket)
}

func (r *Registry) runCallback(id native.ID, fn InvalidateFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("invalidate callback panicked",
				zap.Stringer("identity", id),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn(id)
}

// IsAlive reports whether h is registered and its referent not destroyed.
func (r *Registry) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.alive.Load()
}

// Deref returns the handle's view if it is alive.
// The result reflects the state at the moment of the check; callers needing
// the object pinned for the duration of their work use Do.
func (r *Registry) Deref(h *Handle) (any, bool) {
	if h == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !h.alive.Load() {
		return nil, false
	}
	return h.view, true
}

// Do calls fn with the view while holding the invalidation lock, so the
// referent cannot be invalidated until fn returns. fn must be short and must
// not call back into the Registry. Returns false if h is not alive.
func (r *Registry) Do(h *Handle, fn func(view any)) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !h.alive.Load() {
		return false
	}
	fn(h.view)
	return true
}

// IdentityOf returns the identity h is bound to, or native.Nil.
func (r *Registry) IdentityOf(h *Handle) native.ID {
	if h == nil {
		return native.Nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.id
}

// Count returns the number of live handles registered for id.
func (r *Registry) Count(id native.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets[id])
}

// Identities returns the identities that currently have live handles.
func (r *Registry) Identities() []native.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]native.ID, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	return ids
}

// Stats contains registry statistics.
type Stats struct {
	// Identities is the number of identities with live handles.
	Identities int

	// Handles is the number of live handles.
	Handles int

	// Registered is the total number of successful registrations.
	Registered uint64

	// Unregistered is the number of handles released by their observer.
	Unregistered uint64

	// Invalidated is the number of handles killed by object destruction.
	Invalidated uint64

	// Destroyed is the number of identities invalidated.
	Destroyed uint64
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	handles := 0
	for _, b := range r.buckets {
		handles += len(b)
	}
	identities := len(r.buckets)
	r.mu.Unlock()

	return Stats{
		Identities:   identities,
		Handles:      handles,
		Registered:   r.registered.Load(),
		Unregistered: r.unregistered.Load(),
		Invalidated:  r.invalidated.Load(),
		Destroyed:    r.destroyed.Load(),
	}
}
