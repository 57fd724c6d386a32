// Package memory models the host process's address space as an injected
// capability.
//
// Nothing outside this package dereferences host addresses directly. Every
// read and write of host memory goes through a Region, which lets the same
// scanner, patcher, detour engine and typed views run against the live
// process (Local) or against a byte-backed image (Buffer).
package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// PageSize is the page granularity used for protection changes.
const PageSize = 4096

// Errors returned by Region implementations.
var (
	// ErrUnmapped is returned when an address range is not inside any mapping.
	ErrUnmapped = errors.New("address not mapped")

	// ErrNotWritable is returned when writing to a page without write access.
	ErrNotWritable = errors.New("page not writable")

	// ErrNotReadable is returned when reading from a page without read access.
	ErrNotReadable = errors.New("page not readable")

	// ErrNoSpace is returned when an allocation cannot be satisfied.
	ErrNoSpace = errors.New("no space for allocation")
)

// Protection is a page protection bit set.
type Protection uint8

// Protection bits.
const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec

	ProtNone Protection = 0
	ProtRX              = ProtRead | ProtExec
	ProtRW              = ProtRead | ProtWrite
	ProtRWX             = ProtRead | ProtWrite | ProtExec
)

// String renders the protection like /proc/<pid>/maps does.
func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Mapping describes one contiguous mapping of the address space.
type Mapping struct {
	Start uintptr
	End   uintptr
	Prot  Protection
	Path  string
}

// Contains reports whether addr lies inside the mapping.
func (m Mapping) Contains(addr uintptr) bool {
	return addr >= m.Start && addr < m.End
}

// Size returns the mapping length in bytes.
func (m Mapping) Size() uintptr {
	return m.End - m.Start
}

// Region is access to a foreign address space.
//
// Read and Write copy bytes; neither retains the passed slices. Query reports
// the mapping and protection of the page containing addr. Protect changes
// the protection of every page touched by [addr, addr+n). Alloc reserves a
// read-write-execute block, preferably within a 32-bit displacement of near,
// for trampolines and scratch strings.
type Region interface {
	Read(addr uintptr, n int) ([]byte, error)
	Write(addr uintptr, data []byte) error
	Query(addr uintptr) (Mapping, error)
	Protect(addr uintptr, n int, prot Protection) error
	Alloc(n int, near uintptr) (uintptr, error)
	Free(addr uintptr) error
}

// PageAlign returns the page containing addr and the page-aligned length
// covering [addr, addr+n).
func PageAlign(addr uintptr, n int) (uintptr, uintptr) {
	start := addr &^ (PageSize - 1)
	end := (addr + uintptr(n) + PageSize - 1) &^ (PageSize - 1)
	return start, end - start
}

// IsExecutable reports whether addr lies in a mapped, executable page.
func IsExecutable(r Region, addr uintptr) bool {
	m, err := r.Query(addr)
	if err != nil {
		return false
	}
	return m.Prot&ProtExec != 0
}

// ReadUint8 reads one byte.
func ReadUint8(r Region, addr uintptr) (uint8, error) {
	b, err := r.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt32 reads a little-endian int32.
func ReadInt32(r Region, addr uintptr) (int32, error) {
	v, err := ReadUint32(r, addr)
	return int32(v), err
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r Region, addr uintptr) (uint32, error) {
	b, err := r.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian uint64.
func ReadUint64(r Region, addr uintptr) (uint64, error) {
	b, err := r.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat32 reads a little-endian IEEE-754 float.
func ReadFloat32(r Region, addr uintptr) (float32, error) {
	v, err := ReadUint32(r, addr)
	return math.Float32frombits(v), err
}

// ReadPointer reads a 64-bit pointer.
func ReadPointer(r Region, addr uintptr) (uintptr, error) {
	v, err := ReadUint64(r, addr)
	return uintptr(v), err
}

// WriteInt32 writes a little-endian int32.
func WriteInt32(r Region, addr uintptr, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return r.Write(addr, b[:])
}

// WriteFloat32 writes a little-endian IEEE-754 float.
func WriteFloat32(r Region, addr uintptr, v float32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return r.Write(addr, b[:])
}

// ReadCString reads a NUL-terminated string of at most max bytes. A missing
// terminator within max bytes truncates rather than failing.
func ReadCString(r Region, addr uintptr, max int) (string, error) {
	const chunk = 64
	var sb strings.Builder
	for read := 0; read < max; {
		n := chunk
		if rem := max - read; rem < n {
			n = rem
		}
		// Stay within the current page so a string ending near the end of
		// a mapping never forces a read past it.
		if pageLeft := int(PageSize - (addr+uintptr(read))%PageSize); pageLeft < n {
			n = pageLeft
		}
		b, err := r.Read(addr+uintptr(read), n)
		if err != nil {
			if read > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			sb.Write(b[:i])
			return sb.String(), nil
		}
		sb.Write(b)
		read += n
	}
	return sb.String(), nil
}

// WriteCString writes s followed by a NUL into a buffer of size bytes at
// addr, truncating s if needed.
func WriteCString(r Region, addr uintptr, s string, size int) error {
	if size <= 0 {
		return fmt.Errorf("write cstring: buffer size %d", size)
	}
	if len(s) > size-1 {
		s = s[:size-1]
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return r.Write(addr, b)
}
