package event

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for dispatchers.
var (
	// ErrRetired is returned when registering on a retired dispatcher.
	ErrRetired = errors.New("dispatcher retired")

	// ErrLevel is returned for a priority outside the dispatcher's levels.
	ErrLevel = errors.New("priority level out of range")

	// ErrUnknownEvent is returned when registering on an undefined event.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrHandlerFault marks a handler that failed or panicked.
	ErrHandlerFault = errors.New("handler fault")

	// ErrHandlerPanic is matched by a PanicError.
	ErrHandlerPanic = errors.New("handler panicked")
)

// FaultError wraps the failure of one handler during dispatch.
type FaultError struct {
	// Event is the dispatcher name.
	Event string

	// Owner and ID identify the failing registration.
	Owner string
	ID    uuid.UUID

	// Err is the handler's error or a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("handler %s of %s on %s: %v", e.ID, e.Owner, e.Event, e.Err)
}

// Unwrap exposes both ErrHandlerFault and the underlying error.
func (e *FaultError) Unwrap() []error {
	return []error{ErrHandlerFault, e.Err}
}

// PanicError wraps a value a handler panicked with.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
