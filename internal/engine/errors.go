package engine

import (
	"errors"
	"fmt"
)

// Errors returned by the engine.
var (
	// ErrNoProcess indicates the script does not define a global process function.
	ErrNoProcess = errors.New("script does not define process(block)")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine is closed")
)

// ScriptError wraps a Lua error raised while processing a block.
type ScriptError struct {
	Block uint64
	Err   error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
