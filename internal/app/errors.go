// Package app wires every component together in a fixed order and tears
// them down along a single path.
package app

import (
	"errors"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Start was called on a running application.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNotRunning indicates the application is not running.
	ErrNotRunning = errors.New("application not running")

	// ErrUnsupported indicates no native memory or caller exists for this
	// platform and none was supplied.
	ErrUnsupported = errors.New("unsupported platform")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// RestoreError is the panic value when teardown cannot put the host's
// original code back. Continuing would leave jumps into freed memory.
type RestoreError struct {
	Err error
}

func (e *RestoreError) Error() string {
	return "restore original code: " + e.Err.Error()
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}
