package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/listener"
	"github.com/dshills/patchbay/internal/native"
	"github.com/dshills/patchbay/internal/weakref"
	"github.com/dshills/patchbay/internal/workqueue"
)

// DefaultTick is the consumer's drain interval when no wake-up arrives.
const DefaultTick = 16 * time.Millisecond

// Bridge connects one engine instance to its front-end.
type Bridge struct {
	weak      *weakref.Registry
	listeners *listener.Registry
	queue     *workqueue.Queue
	console   *console.Batcher
	host      Host
	logger    *zap.Logger

	posted    atomic.Uint64
	midiIn    atomic.Uint64
	destroyed atomic.Uint64
}

// Option configures a Bridge.
type Option func(*options)

type options struct {
	host       Host
	logger     *zap.Logger
	weak       *weakref.Registry
	listeners  *listener.Registry
	queueOpts  []workqueue.Option
	consoleOpt []console.Option
}

// WithHost sets the receiver of engine notifications.
func WithHost(h Host) Option {
	return func(o *options) {
		if h != nil {
			o.host = h
		}
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWeakRegistry injects an existing weak-reference registry.
func WithWeakRegistry(r *weakref.Registry) Option {
	return func(o *options) {
		o.weak = r
	}
}

// WithListenerRegistry injects an existing listener registry.
func WithListenerRegistry(r *listener.Registry) Option {
	return func(o *options) {
		o.listeners = r
	}
}

// WithQueueOptions configures the work queue.
func WithQueueOptions(opts ...workqueue.Option) Option {
	return func(o *options) {
		o.queueOpts = append(o.queueOpts, opts...)
	}
}

// WithConsoleOptions configures the console. The scheduler and batch
// callback are always set by the bridge.
func WithConsoleOptions(opts ...console.Option) Option {
	return func(o *options) {
		o.consoleOpt = append(o.consoleOpt, opts...)
	}
}

// New creates a bridge.
func New(opts ...Option) *Bridge {
	o := options{
		host:   NopHost{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{
		host:   o.host,
		logger: o.logger.Named("bridge"),
	}

	b.weak = o.weak
	if b.weak == nil {
		b.weak = weakref.NewRegistry(weakref.WithLogger(o.logger))
	}
	b.listeners = o.listeners
	if b.listeners == nil {
		b.listeners = listener.NewRegistry(listener.WithLogger(o.logger))
	}

	queueOpts := append([]workqueue.Option{workqueue.WithLogger(o.logger)}, o.queueOpts...)
	b.queue = workqueue.New(queueOpts...)

	consoleOpts := append([]console.Option{console.WithLogger(o.logger)}, o.consoleOpt...)
	consoleOpts = append(consoleOpts,
		console.WithScheduler(b.queue),
		console.WithOnBatch(b.host.ConsoleBatch),
	)
	b.console = console.New(consoleOpts...)

	return b
}

// Weak returns the weak-reference registry.
func (b *Bridge) Weak() *weakref.Registry { return b.weak }

// Listeners returns the listener registry.
func (b *Bridge) Listeners() *listener.Registry { return b.listeners }

// Queue returns the work queue.
func (b *Bridge) Queue() *workqueue.Queue { return b.queue }

// Console returns the console batcher.
func (b *Bridge) Console() *console.Batcher { return b.console }

// ObjectDestroyed tells the bridge an engine object is gone. Every weak
// handle to it is invalidated, its listener bucket is dropped, and any
// partial console line it was printing is submitted. Handles die at once;
// their invalidation callbacks run later on the consumer.
func (b *Bridge) ObjectDestroyed(id native.ID) {
	b.weak.InvalidateAllVia(id, func(task func()) bool {
		return b.queue.Enqueue(task) == nil
	})
	b.listeners.ReleaseAll(id)
	b.console.ReleaseOrigin(id)
	b.destroyed.Add(1)
}

// RegisterWeakHandle registers h as an observer of id.
func (b *Bridge) RegisterWeakHandle(id native.ID, h *weakref.Handle) error {
	return b.weak.Register(id, h)
}

// UnregisterWeakHandle releases h.
func (b *Bridge) UnregisterWeakHandle(id native.ID, h *weakref.Handle) {
	b.weak.Unregister(id, h)
}

// Subscribe registers l, held weakly, for messages to id.
func Subscribe[T any, PT interface {
	*T
	listener.Listener
}](b *Bridge, id native.ID, l PT) (*listener.Subscription, error) {
	return listener.Subscribe[T, PT](b.listeners, id, l)
}

// Unsubscribe removes l's subscription to id.
func Unsubscribe[T any, PT interface {
	*T
	listener.Listener
}](b *Bridge, id native.ID, l PT) bool {
	return listener.Unsubscribe[T, PT](b.listeners, id, l)
}

// Post defers a message to id's listeners onto the consumer goroutine.
// The payload must not be modified after the call.
func (b *Bridge) Post(id native.ID, name string, payload native.Atoms) error {
	if err := b.queue.EnqueueTask(name, func() error {
		b.listeners.Dispatch(id, name, payload)
		return nil
	}); err != nil {
		return err
	}
	b.posted.Add(1)
	return nil
}

// Dispatch delivers a message to id's listeners on the calling goroutine.
func (b *Bridge) Dispatch(id native.ID, name string, payload native.Atoms) listener.DispatchResult {
	return b.listeners.Dispatch(id, name, payload)
}

// ParameterChanged defers a parameter change to the host.
func (b *Bridge) ParameterChanged(name string, value float32) error {
	return b.queue.Enqueue(func() { b.host.ParameterChanged(name, value) })
}

// DSPStateChanged defers a DSP on/off change to the host.
func (b *Bridge) DSPStateChanged(on bool) error {
	return b.queue.Enqueue(func() { b.host.DSPStateChanged(on) })
}

// SystemMessage defers an engine system message to the host.
func (b *Bridge) SystemMessage(selector string, args native.Atoms) error {
	return b.queue.Enqueue(func() { b.host.SystemMessage(selector, args) })
}

// Print forwards a raw output fragment to the console.
func (b *Bridge) Print(origin native.ID, fragment string) {
	b.console.Print(origin, fragment)
}

// LogMessage submits an info line to the console.
func (b *Bridge) LogMessage(origin native.ID, text string) error {
	return b.console.LogMessage(origin, text)
}

// LogWarning submits a warning line to the console.
func (b *Bridge) LogWarning(origin native.ID, text string) error {
	return b.console.LogWarning(origin, text)
}

// LogError submits an error line to the console.
func (b *Bridge) LogError(origin native.ID, text string) error {
	return b.console.LogError(origin, text)
}

// Clear moves the console records to history.
func (b *Bridge) Clear() int {
	return b.console.Clear()
}

// Restore brings the console history back.
func (b *Bridge) Restore() int {
	return b.console.Restore()
}

// Enqueue defers fn to the consumer goroutine.
func (b *Bridge) Enqueue(fn func()) error {
	return b.queue.Enqueue(fn)
}

// Ready returns a channel signalled when deferred work is waiting.
func (b *Bridge) Ready() <-chan struct{} {
	return b.queue.Ready()
}

// Tick drains deferred work. Call it from the consumer goroutine once per
// event-loop iteration.
func (b *Bridge) Tick(ctx context.Context) (workqueue.DrainResult, error) {
	return b.queue.Drain(ctx)
}

// Run is a consumer loop for front-ends without their own event loop. It
// drains on every wake-up and at least every tick until ctx is done, then
// flushes the console and drains once more.
func (b *Bridge) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	b.logger.Debug("consumer loop started", zap.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			b.Shutdown()
			b.logger.Debug("consumer loop stopped")
			return nil
		case <-b.queue.Ready():
		case <-ticker.C:
		}
		if _, err := b.queue.Drain(ctx); err != nil {
			return err
		}
	}
}

// Shutdown flushes pending console lines and runs all deferred work. Call it
// from the consumer goroutine after the engine has stopped.
func (b *Bridge) Shutdown() {
	b.console.Flush()
	for b.queue.Len() > 0 {
		res, err := b.queue.Drain(context.Background())
		if err != nil || res.Executed == 0 {
			break
		}
	}
}

// Stats aggregates component statistics.
type Stats struct {
	Queue     workqueue.Stats
	Console   console.Stats
	Weak      weakref.Stats
	Listeners listener.Stats

	// Posted is the number of listener messages deferred with Post.
	Posted uint64

	// MIDI is the number of MIDI messages deferred to the host.
	MIDI uint64

	// Destroyed is the number of ObjectDestroyed calls.
	Destroyed uint64
}

// Stats returns a snapshot of all statistics.
func (b *Bridge) Stats() Stats {
	return Stats{
		Queue:     b.queue.Stats(),
		Console:   b.console.Stats(),
		Weak:      b.weak.Stats(),
		Listeners: b.listeners.Stats(),
		Posted:    b.posted.Load(),
		MIDI:      b.midiIn.Load(),
		Destroyed: b.destroyed.Load(),
	}
}
