package view

import (
	"errors"
	"fmt"
)

var (
	// ErrNullPointer is returned when a view is constructed over address zero.
	ErrNullPointer = errors.New("null pointer")

	// ErrOutOfRange is returned when a slot identifier is outside its table.
	ErrOutOfRange = errors.New("identifier out of range")
)

// RangeError reports a slot identifier outside [0, Max).
type RangeError struct {
	Kind string
	ID   int
	Max  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s id %d out of range [0, %d)", e.Kind, e.ID, e.Max)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// NullError names the kind of view that was refused.
type NullError struct {
	Kind string
}

func (e *NullError) Error() string {
	return fmt.Sprintf("%s: null pointer", e.Kind)
}

func (e *NullError) Is(target error) bool {
	return target == ErrNullPointer
}

// CheckRange returns a *RangeError unless 0 <= id < max.
func CheckRange(kind string, id, max int) error {
	if id < 0 || id >= max {
		return &RangeError{Kind: kind, ID: id, Max: max}
	}
	return nil
}
