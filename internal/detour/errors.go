package detour

import (
	"errors"
	"fmt"
)

// Errors returned by the engine. They are wrapped in *HookError.
var (
	// ErrAlreadyHooked is returned when the target already has a live hook.
	ErrAlreadyHooked = errors.New("address already hooked")

	// ErrInvalidAddress is returned when the target is not mapped executable
	// memory or the replacement is null.
	ErrInvalidAddress = errors.New("invalid hook address")

	// ErrRelocation is returned when the target's prologue cannot be moved
	// into a trampoline.
	ErrRelocation = errors.New("prologue cannot be relocated")

	// ErrClosed is returned when operating on a removed hook.
	ErrClosed = errors.New("hook removed")

	// ErrRestore is returned when the original bytes did not read back
	// unchanged after removing a hook.
	ErrRestore = errors.New("original bytes not restored")
)

// HookError records the operation and address that failed.
type HookError struct {
	Op   string
	Name string
	Addr uintptr
	Err  error
}

func (e *HookError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("detour %s %s at %#x: %v", e.Op, e.Name, e.Addr, e.Err)
	}
	return fmt.Sprintf("detour %s at %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
