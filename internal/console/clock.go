package console

import "time"

// Timer is the subset of *time.Timer the batcher uses.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Clock abstracts time for the debounce timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler runs a function on the consumer goroutine.
// workqueue.Queue satisfies it.
type Scheduler interface {
	Enqueue(fn func()) error
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func()) error

// Enqueue calls f.
func (f SchedulerFunc) Enqueue(fn func()) error {
	return f(fn)
}

// runInline is the scheduler used when none is configured: the flush runs on
// the timer goroutine.
var runInline = SchedulerFunc(func(fn func()) error {
	fn()
	return nil
})
