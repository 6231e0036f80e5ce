package workqueue

import (
	"runtime/debug"
	"time"
)

// Task is a deferred unit of work. Exactly one of Run or RunErr is set.
type Task struct {
	// Label identifies the task in failure reports. Optional.
	Label string

	// Run is a task that cannot fail.
	Run func()

	// RunErr is a task that reports failure by returning an error.
	RunErr func() error
}

// Result represents the outcome of one task execution.
type Result struct {
	// Err is the error returned by the task, or a *PanicError.
	Err error

	// Panicked is true if the task panicked.
	Panicked bool

	// Duration is how long the task ran.
	Duration time.Duration
}

// IsSuccess returns true if the task completed without error or panic.
func (r Result) IsSuccess() bool {
	return r.Err == nil && !r.Panicked
}

// execute runs a task, recovering panics and capturing timing.
func execute(task Task) (result Result) {
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if rec := recover(); rec != nil {
			result.Panicked = true
			result.Err = &PanicError{
				Label: task.Label,
				Value: rec,
				Stack: debug.Stack(),
			}
		}
	}()

	switch {
	case task.RunErr != nil:
		if err := task.RunErr(); err != nil {
			result.Err = &TaskError{Label: task.Label, Err: err}
		}
	case task.Run != nil:
		task.Run()
	}

	return result
}
