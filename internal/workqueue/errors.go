package workqueue

import "errors"

// Sentinel errors for the work queue.
var (
	// ErrQueueFull is returned when the ring is at capacity and the task was dropped.
	ErrQueueFull = errors.New("work queue is full")

	// ErrNilTask is returned when a nil function is enqueued.
	ErrNilTask = errors.New("task cannot be nil")

	// ErrDrainInProgress is returned when Drain is called while another drain runs.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrTaskPanic is matched by PanicError.
	ErrTaskPanic = errors.New("task panicked")
)

// TaskError wraps an error returned by a task with its label.
type TaskError struct {
	// Label identifies the task.
	Label string

	// Err is the error returned by the task.
	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return "task " + e.label() + " failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

func (e *TaskError) label() string {
	if e.Label == "" {
		return "<unlabeled>"
	}
	return e.Label
}

// PanicError wraps a task panic.
type PanicError struct {
	// Label identifies the task.
	Label string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	label := e.Label
	if label == "" {
		label = "<unlabeled>"
	}
	return "task " + label + " panicked"
}

// Is allows errors.Is to match PanicError with ErrTaskPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrTaskPanic
}
