package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCapacity is the default number of ring slots.
const DefaultCapacity = 4096

// FailureHandler is called on the consumer goroutine for every failed task.
// err is a *TaskError or a *PanicError.
type FailureHandler func(err error)

// Queue is a multi-producer, single-consumer queue of deferred tasks.
type Queue struct {
	ring *Ring[Task]

	// Wake-up
	ready    chan struct{}
	signaled atomic.Bool
	wake     func()

	// Consumer state
	draining      atomic.Bool
	reportedDrops uint64

	// Failure reporting
	logger         *zap.Logger
	onFailure      FailureHandler
	failureLimiter *rate.Limiter
	suppressed     uint64

	// Stats
	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	executed    atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	drains      atomic.Uint64
	totalTimeNs atomic.Int64
}

// Option configures a Queue.
type Option func(*queueConfig)

type queueConfig struct {
	capacity     int
	logger       *zap.Logger
	wake         func()
	onFailure    FailureHandler
	failureLimit rate.Limit
	failureBurst int
}

// WithCapacity sets the ring capacity. It is rounded up to a power of two.
func WithCapacity(n int) Option {
	return func(c *queueConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger for failure and overflow reports.
func WithLogger(l *zap.Logger) Option {
	return func(c *queueConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWakeFunc sets a callback invoked, from the producer's goroutine, when
// the queue goes from idle to having work. It must not block.
func WithWakeFunc(fn func()) Option {
	return func(c *queueConfig) {
		c.wake = fn
	}
}

// WithFailureHandler sets the hook called for each failed task.
func WithFailureHandler(h FailureHandler) Option {
	return func(c *queueConfig) {
		c.onFailure = h
	}
}

// WithFailureLogLimit bounds how often task failures are logged.
func WithFailureLogLimit(limit rate.Limit, burst int) Option {
	return func(c *queueConfig) {
		c.failureLimit = limit
		c.failureBurst = burst
	}
}

// New creates a queue.
func New(opts ...Option) *Queue {
	cfg := queueConfig{
		capacity:     DefaultCapacity,
		logger:       zap.NewNop(),
		failureLimit: rate.Every(100 * time.Millisecond),
		failureBurst: 10,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Queue{
		ring:           NewRing[Task](cfg.capacity),
		ready:          make(chan struct{}, 1),
		wake:           cfg.wake,
		logger:         cfg.logger.Named("workqueue"),
		onFailure:      cfg.onFailure,
		failureLimiter: rate.NewLimiter(cfg.failureLimit, cfg.failureBurst),
	}
}

// Enqueue defers fn to the consumer. Never blocks.
// Returns ErrQueueFull if the ring is full; fn is dropped and counted.
func (q *Queue) Enqueue(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return q.push(Task{Run: fn})
}

// EnqueueTask defers a labeled, fallible task to the consumer.
func (q *Queue) EnqueueTask(label string, fn func() error) error {
	if fn == nil {
		return ErrNilTask
	}
	return q.push(Task{Label: label, RunErr: fn})
}

// Schedule defers fn, discarding the overflow error.
// Overflow is still counted in Stats.Dropped.
func (q *Queue) Schedule(fn func()) {
	_ = q.Enqueue(fn)
}

func (q *Queue) push(t Task) error {
	if !q.ring.Push(t) {
		q.dropped.Add(1)
		return ErrQueueFull
	}
	q.enqueued.Add(1)

	if q.signaled.CompareAndSwap(false, true) {
		select {
		case q.ready <- struct{}{}:
		default:
		}
		if q.wake != nil {
			q.wake()
		}
	}
	return nil
}

// Ready returns a channel signalled when work becomes available.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// DrainResult summarises one Drain call.
type DrainResult struct {
	// Executed is the number of tasks run.
	Executed int

	// Failed is the number of tasks that returned an error or panicked.
	Failed int

	// Dropped is the number of tasks rejected by overflow since the previous drain.
	Dropped uint64

	// Remaining is the approximate number of tasks left queued.
	Remaining int
}

// Drain runs every task queued when the drain started, in enqueue order.
// Only the consumer goroutine may call Drain. Tasks queued while draining run
// on the next drain. If ctx is cancelled between tasks the drain stops early
// and the rest stay queued.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.drains.Add(1)
	q.signaled.Store(false)

	var res DrainResult
	n := q.ring.Len()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		task, ok := q.ring.Pop()
		if !ok {
			// A producer claimed the slot but has not published yet.
			break
		}

		result := execute(task)
		q.executed.Add(1)
		q.totalTimeNs.Add(result.Duration.Nanoseconds())
		res.Executed++

		if !result.IsSuccess() {
			res.Failed++
			q.failed.Add(1)
			if result.Panicked {
				q.panicked.Add(1)
			}
			q.reportFailure(result.Err)
		}
	}

	if d := q.dropped.Load(); d > q.reportedDrops {
		res.Dropped = d - q.reportedDrops
		q.reportedDrops = d
		q.logger.Warn("work queue overflow",
			zap.Uint64("dropped", res.Dropped),
			zap.Uint64("total_dropped", d),
			zap.Int("capacity", q.ring.Cap()))
	}

	res.Remaining = q.ring.Len()
	if res.Remaining > 0 && q.signaled.CompareAndSwap(false, true) {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return res, nil
}

func (q *Queue) reportFailure(err error) {
	if q.onFailure != nil {
		func() {
			defer func() { _ = recover() }()
			q.onFailure(err)
		}()
	}

	if !q.failureLimiter.Allow() {
		q.suppressed++
		return
	}

	fields := []zap.Field{zap.Error(err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.String("task", pe.Label), zap.Any("panic", pe.Value),
			zap.ByteString("stack", pe.Stack))
	}
	var te *TaskError
	if errors.As(err, &te) {
		fields = append(fields, zap.String("task", te.Label))
	}
	if q.suppressed > 0 {
		fields = append(fields, zap.Uint64("suppressed", q.suppressed))
		q.suppressed = 0
	}
	q.logger.Error("deferred task failed", fields...)
}

// Len returns the approximate number of queued tasks.
func (q *Queue) Len() int {
	return q.ring.Len()
}

// Cap returns the ring capacity.
func (q *Queue) Cap() int {
	return q.ring.Cap()
}

// Stats contains queue statistics.
type Stats struct {
	// Enqueued is the total number of tasks accepted.
	Enqueued uint64

	// Dropped is the total number of tasks rejected by overflow.
	Dropped uint64

	// Executed is the total number of tasks run.
	Executed uint64

	// Failed is the number of tasks that returned errors or panicked.
	Failed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Drains is the number of Drain calls that ran.
	Drains uint64

	// Depth is the current approximate queue depth.
	Depth int

	// Capacity is the ring capacity.
	Capacity int

	// AvgDuration is the average task run time.
	AvgDuration time.Duration
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	executed := q.executed.Load()
	var avg time.Duration
	if executed > 0 {
		avg = time.Duration(q.totalTimeNs.Load() / int64(executed))
	}
	return Stats{
		Enqueued:    q.enqueued.Load(),
		Dropped:     q.dropped.Load(),
		Executed:    executed,
		Failed:      q.failed.Load(),
		Panicked:    q.panicked.Load(),
		Drains:      q.drains.Load(),
		Depth:       q.ring.Len(),
		Capacity:    q.ring.Cap(),
		AvgDuration: avg,
	}
}
