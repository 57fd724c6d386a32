package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a script runs past its time limit.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrBusy is returned when a state is already running, which happens
	// when an event raised by a script's own call reaches the same plugin.
	ErrBusy = errors.New("lua state busy")

	// ErrBadReturn is returned when a handler returns a value that is not
	// an outcome.
	ErrBadReturn = errors.New("unsupported handler return value")
)
