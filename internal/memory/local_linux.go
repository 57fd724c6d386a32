//go:build linux

package memory

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxRel32 is the farthest a trampoline may sit from its target for a
// rel32 displacement to reach it.
const maxRel32 = 1<<31 - PageSize

// Local is the Region of the current process.
//
// Read and Write touch memory directly and do not validate addresses: a bad
// address faults the process exactly as the host's own code would. Callers
// validate with Query before anything that is not a host-provided pointer.
type Local struct {
	mu     sync.Mutex
	allocs map[uintptr]uintptr // base -> length
}

// NewLocal returns the Region for the running process.
func NewLocal() *Local {
	return &Local{allocs: make(map[uintptr]uintptr)}
}

func bytesAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// Read implements Region.
func (l *Local) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	out := make([]byte, n)
	copy(out, bytesAt(addr, n))
	return out, nil
}

// Write implements Region.
func (l *Local) Write(addr uintptr, data []byte) error {
	if addr == 0 {
		return fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	copy(bytesAt(addr, len(data)), data)
	return nil
}

// Maps returns the current mappings of the process.
func (l *Local) Maps() ([]Mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMaps(f)
}

// Query implements Region.
func (l *Local) Query(addr uintptr) (Mapping, error) {
	maps, err := l.Maps()
	if err != nil {
		return Mapping{}, err
	}
	for _, m := range maps {
		if m.Contains(addr) {
			return m, nil
		}
	}
	return Mapping{}, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
}

// Protect implements Region.
func (l *Local) Protect(addr uintptr, n int, prot Protection) error {
	start, length := PageAlign(addr, n)
	if err := unix.Mprotect(bytesAt(start, int(length)), unixProt(prot)); err != nil {
		return fmt.Errorf("mprotect %#x+%d %s: %w", start, length, prot, err)
	}
	return nil
}

// Alloc implements Region. It probes page-aligned hints below and above near
// so the block stays within a rel32 displacement; if no hint lands close
// enough the block is placed wherever the kernel chooses.
func (l *Local) Alloc(n int, near uintptr) (uintptr, error) {
	_, length := PageAlign(0, n)
	prot := unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS

	if near != 0 {
		const step = 64 << 20
		for delta := uintptr(step); delta < maxRel32; delta += step {
			for _, hint := range []uintptr{near - delta, near + delta} {
				hint &^= PageSize - 1
				p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), length, prot, flags)
				if err != nil {
					continue
				}
				got := uintptr(p)
				if distance(got, near) < maxRel32 {
					l.track(got, length)
					return got, nil
				}
				_ = unix.MunmapPtr(p, length)
			}
		}
	}

	p, err := unix.MmapPtr(-1, 0, nil, length, prot, flags)
	if err != nil {
		return 0, fmt.Errorf("%w: mmap %d: %v", ErrNoSpace, length, err)
	}
	l.track(uintptr(p), length)
	return uintptr(p), nil
}

func (l *Local) track(base, length uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allocs[base] = length
}

// Free implements Region.
func (l *Local) Free(addr uintptr) error {
	l.mu.Lock()
	length, ok := l.allocs[addr]
	delete(l.allocs, addr)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("free %#x: %w", addr, ErrUnmapped)
	}
	return unix.MunmapPtr(unsafe.Pointer(addr), length)
}

func unixProt(p Protection) int {
	prot := unix.PROT_NONE
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func distance(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}
	return b - a
}
