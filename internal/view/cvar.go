package view

import (
	"github.com/dshills/gamehook/internal/memory"
)

// Cvar flag bits used by the host.
const (
	CvarArchive    = 0x0001
	CvarUserinfo   = 0x0002
	CvarServerinfo = 0x0004
	CvarSysteminfo = 0x0008
	CvarInit       = 0x0010
	CvarLatch      = 0x0020
	CvarROM        = 0x0040
	CvarCheat      = 0x0200
)

// Cvar is a view over a console variable record.
type Cvar struct {
	r    memory.Region
	addr uintptr
	l    *CvarLayout
}

// NewCvar returns a view over the variable record at addr.
func NewCvar(r memory.Region, addr uintptr, l *CvarLayout) (Cvar, error) {
	if addr == 0 {
		return Cvar{}, &NullError{Kind: "cvar"}
	}
	return Cvar{r: r, addr: addr, l: l}, nil
}

// Addr returns the record address.
func (c Cvar) Addr() uintptr { return c.addr }

// Name returns the variable name.
func (c Cvar) Name() (string, error) { return c.str(c.l.Name) }

// Text returns the current value as text.
func (c Cvar) Text() (string, error) { return c.str(c.l.String) }

// ResetString returns the default value.
func (c Cvar) ResetString() (string, error) { return c.str(c.l.ResetString) }

// LatchedString returns the value pending a restart, empty when none.
func (c Cvar) LatchedString() (string, error) { return c.str(c.l.LatchedString) }

// Flags returns the variable's flag bits.
func (c Cvar) Flags() (int32, error) {
	return memory.ReadInt32(c.r, c.field(c.l.Flags))
}

// ModificationCount returns how often the value has changed.
func (c Cvar) ModificationCount() (int32, error) {
	return memory.ReadInt32(c.r, c.field(c.l.ModificationCount))
}

// Value returns the value parsed as a float.
func (c Cvar) Value() (float32, error) {
	return memory.ReadFloat32(c.r, c.field(c.l.Value))
}

// Integer returns the value parsed as an integer.
func (c Cvar) Integer() (int32, error) {
	return memory.ReadInt32(c.r, c.field(c.l.Integer))
}

// SetInteger writes the numeric fields directly and flags the variable as
// modified. The text value is left to the host's own setter.
func (c Cvar) SetInteger(v int32) error {
	if err := memory.WriteInt32(c.r, c.field(c.l.Integer), v); err != nil {
		return err
	}
	if err := memory.WriteFloat32(c.r, c.field(c.l.Value), float32(v)); err != nil {
		return err
	}
	return c.touch()
}

// SetValue writes the numeric fields directly and flags the variable as
// modified.
func (c Cvar) SetValue(v float32) error {
	if err := memory.WriteFloat32(c.r, c.field(c.l.Value), v); err != nil {
		return err
	}
	if err := memory.WriteInt32(c.r, c.field(c.l.Integer), int32(v)); err != nil {
		return err
	}
	return c.touch()
}

func (c Cvar) touch() error {
	if err := memory.WriteInt32(c.r, c.field(c.l.Modified), 1); err != nil {
		return err
	}
	n, err := c.ModificationCount()
	if err != nil {
		return err
	}
	return memory.WriteInt32(c.r, c.field(c.l.ModificationCount), n+1)
}

func (c Cvar) str(off int) (string, error) {
	p, err := memory.ReadPointer(c.r, c.field(off))
	if err != nil || p == 0 {
		return "", err
	}
	return memory.ReadCString(c.r, p, 1024)
}

func (c Cvar) field(off int) uintptr { return c.addr + uintptr(off) }
