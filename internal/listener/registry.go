package listener

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/native"
)

// FailureHandler is called for every listener that panics during dispatch.
type FailureHandler func(err *ListenerError)

// Registry maps identities to weakly held listeners.
// It is safe for concurrent use.
//
// Buckets are copy-on-write: removal always builds a new slice, so Dispatch
// can iterate over the slice it read under the read lock without copying it.
type Registry struct {
	mu      sync.RWMutex
	buckets map[native.ID][]*Subscription
	byID    map[string]*Subscription

	logger    *zap.Logger
	onFailure FailureHandler

	subscribed atomic.Uint64
	dispatched atomic.Uint64
	delivered  atomic.Uint64
	pruned     atomic.Uint64
	failed     atomic.Uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report listener panics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFailureHandler sets a hook called for each listener panic.
func WithFailureHandler(h FailureHandler) Option {
	return func(r *Registry) {
		r.onFailure = h
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		buckets: make(map[native.ID][]*Subscription),
		byID:    make(map[string]*Subscription),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("listener")
	return r
}

// Subscribe registers l for events dispatched to id. The registry holds l
// weakly. Subscribing the same listener to the same identity twice returns
// the existing subscription.
func Subscribe[T any, PT interface {
	*T
	Listener
}](r *Registry, id native.ID, l PT) (*Subscription, error) {
	if l == nil {
		return nil, ErrNilListener
	}
	if id.IsNil() {
		return nil, ErrNilIdentity
	}

	wp := weak.Make((*T)(l))
	sub := &Subscription{
		id:       uuid.NewString(),
		identity: id,
		key:      wp,
		get: func() Listener {
			p := wp.Value()
			if p == nil {
				return nil
			}
			return PT(p)
		},
		reg: r,
	}
	return r.add(sub), nil
}

// Unsubscribe removes l's subscription to id. No-op if there is none.
func Unsubscribe[T any, PT interface {
	*T
	Listener
}](r *Registry, id native.ID, l PT) bool {
	if l == nil {
		return false
	}
	return r.removeKey(id, weak.Make((*T)(l)))
}

func (r *Registry) add(sub *Subscription) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[sub.identity]
	for _, s := range bucket {
		if s.key == sub.key {
			return s
		}
	}

	r.buckets[sub.identity] = append(bucket, sub)
	r.byID[sub.id] = sub
	r.subscribed.Add(1)
	return sub
}

func (r *Registry) removeKey(id native.ID, key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[id]
	for _, s := range bucket {
		if s.key == key {
			r.removeLocked(s)
			return true
		}
	}
	return false
}

// Remove removes a subscription by ID.
func (r *Registry) Remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[subID]
	if !ok {
		return false
	}
	r.removeLocked(sub)
	return true
}

// removeLocked must be called with mu held for writing.
func (r *Registry) removeLocked(sub *Subscription) {
	sub.cancel()
	delete(r.byID, sub.id)

	old := r.buckets[sub.identity]
	bucket := make([]*Subscription, 0, len(old))
	for _, s := range old {
		if s != sub {
			bucket = append(bucket, s)
		}
	}
	if len(bucket) == 0 {
		delete(r.buckets, sub.identity)
		return
	}
	r.buckets[sub.identity] = bucket
}

// ReleaseAll drops every subscription to id without notifying listeners.
// Called when the identity is destroyed. Returns the number dropped.
func (r *Registry) ReleaseAll(id native.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[id]
	if !ok {
		return 0
	}
	for _, s := range bucket {
		s.cancel()
		delete(r.byID, s.id)
	}
	delete(r.buckets, id)
	return len(bucket)
}

// DispatchResult summarises one Dispatch call.
type DispatchResult struct {
	// Delivered is the number of listeners that received the event.
	Delivered int

	// Pruned is the number of collected listeners removed.
	Pruned int

	// Failed is the number of listeners that panicked.
	Failed int
}

// Dispatch delivers an event to every live listener subscribed to id, in
// subscription order. Listeners cancelled before their turn are skipped.
// Collected listeners are pruned after delivery. Unknown identities are a no-op.
func (r *Registry) Dispatch(id native.ID, name string, payload native.Atoms) DispatchResult {
	r.mu.RLock()
	bucket := r.buckets[id]
	r.mu.RUnlock()

	var res DispatchResult
	if len(bucket) == 0 {
		return res
	}
	r.dispatched.Add(1)

	dead := 0
	for _, sub := range bucket {
		if !sub.IsActive() {
			continue
		}
		l := sub.get()
		if l == nil {
			dead++
			continue
		}
		if err := r.deliver(sub, l, name, payload); err != nil {
			res.Failed++
			r.reportFailure(err)
			continue
		}
		res.Delivered++
	}

	if dead > 0 {
		res.Pruned = r.prune(id)
	}

	r.delivered.Add(uint64(res.Delivered))
	r.failed.Add(uint64(res.Failed))
	return res
}

// deliver calls the listener, recovering any panic.
func (r *Registry) deliver(sub *Subscription, l Listener, name string, payload native.Atoms) (err *ListenerError) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ListenerError{
				SubscriptionID: sub.id,
				Identity:       sub.identity,
				Event:          name,
				Value:          rec,
				Stack:          debug.Stack(),
			}
		}
	}()

	l.OnEvent(sub.identity, name, payload)
	return nil
}

func (r *Registry) reportFailure(err *ListenerError) {
	r.logger.Error("listener panicked",
		zap.String("subscription", err.SubscriptionID),
		zap.Stringer("identity", err.Identity),
		zap.String("event", err.Event),
		zap.Any("panic", err.Value),
		zap.ByteString("stack", err.Stack))

	if r.onFailure != nil {
		r.onFailure(err)
	}
}

// prune removes subscriptions to id whose listener has been collected.
func (r *Registry) prune(id native.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.buckets[id]
	bucket := make([]*Subscription, 0, len(old))
	removed := 0
	for _, s := range old {
		if s.get() == nil {
			s.cancel()
			delete(r.byID, s.id)
			removed++
			continue
		}
		bucket = append(bucket, s)
	}
	if removed == 0 {
		return 0
	}
	if len(bucket) == 0 {
		delete(r.buckets, id)
	} else {
		r.buckets[id] = bucket
	}
	r.pruned.Add(uint64(removed))
	return removed
}

// Prune sweeps every identity for collected listeners.
func (r *Registry) Prune() int {
	r.mu.RLock()
	ids := make([]native.ID, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	total := 0
	for _, id := range ids {
		total += r.prune(id)
	}
	return total
}

// Get returns a subscription by ID.
func (r *Registry) Get(subID string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[subID]
	return sub, ok
}

// Count returns the number of subscriptions to id, including any whose
// listener was collected but not yet pruned.
func (r *Registry) Count(id native.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets[id])
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Stats contains registry statistics.
type Stats struct {
	// Identities is the number of identities with at least one subscription.
	Identities int

	// Subscriptions is the current number of subscriptions.
	Subscriptions int

	// Subscribed is the total number of subscriptions ever added.
	Subscribed uint64

	// Dispatched is the number of Dispatch calls that found a bucket.
	Dispatched uint64

	// Delivered is the total number of listener calls that completed.
	Delivered uint64

	// Pruned is the total number of collected listeners removed.
	Pruned uint64

	// Failed is the total number of listener panics.
	Failed uint64
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	identities := len(r.buckets)
	subs := len(r.byID)
	r.mu.RUnlock()

	return Stats{
		Identities:    identities,
		Subscriptions: subs,
		Subscribed:    r.subscribed.Load(),
		Dispatched:    r.dispatched.Load(),
		Delivered:     r.delivered.Load(),
		Pruned:        r.pruned.Load(),
		Failed:        r.failed.Load(),
	}
}
