package view

import (
	"github.com/dshills/gamehook/internal/memory"
)

// Table is a fixed array of host records indexed by slot id.
type Table struct {
	Kind   string
	Base   uintptr
	Stride int
	Max    int
}

// Addr returns the address of slot id. The id is validated before the base
// is considered, so an out of range id never leads to a memory access.
func (t Table) Addr(id int) (uintptr, error) {
	if err := CheckRange(t.Kind, id, t.Max); err != nil {
		return 0, err
	}
	if t.Base == 0 {
		return 0, &NullError{Kind: t.Kind + " table"}
	}
	return t.Base + uintptr(id*t.Stride), nil
}

// Index returns the slot holding addr.
func (t Table) Index(addr uintptr) (int, bool) {
	if t.Base == 0 || t.Stride <= 0 || addr < t.Base {
		return 0, false
	}
	off := addr - t.Base
	if off%uintptr(t.Stride) != 0 {
		return 0, false
	}
	id := int(off / uintptr(t.Stride))
	return id, id < t.Max
}

// ClientAt returns the view for client slot id.
func ClientAt(r memory.Region, t Table, id int, l *ClientLayout) (Client, error) {
	addr, err := t.Addr(id)
	if err != nil {
		return Client{}, err
	}
	return NewClient(r, addr, l)
}

// EntityAt returns the view for entity slot id.
func EntityAt(r memory.Region, t Table, id int, l *Layout) (Entity, error) {
	addr, err := t.Addr(id)
	if err != nil {
		return Entity{}, err
	}
	return NewEntity(r, addr, l)
}
