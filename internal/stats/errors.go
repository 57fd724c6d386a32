package stats

import "errors"

// Sentinel errors for the stats package.
var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned when the pool or server is stopped.
	ErrNotRunning = errors.New("not running")

	// ErrQueueFull is returned when a task is dropped.
	ErrQueueFull = errors.New("task queue is full")

	// ErrConsoleDisabled is returned when no password hash is configured.
	ErrConsoleDisabled = errors.New("remote console disabled")

	// ErrBadPassword is returned when a console password does not match.
	ErrBadPassword = errors.New("bad password")
)
