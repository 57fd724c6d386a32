package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/gamehook/internal/memory"
)

// ErrTooLong is returned for a string that does not fit the scratch ring.
var ErrTooLong = errors.New("string longer than scratch space")

// Scratch is a ring of host memory used to pass strings to native code. A
// string stays valid until the ring wraps over it, which is long after the
// native call it was written for has returned.
type Scratch struct {
	mu     sync.Mutex
	region memory.Region
	base   uintptr
	size   int
	off    int
}

// NewScratch allocates size bytes of scratch space.
func NewScratch(r memory.Region, size int) (*Scratch, error) {
	base, err := r.Alloc(size, 0)
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return &Scratch{region: r, base: base, size: size}, nil
}

// CString writes s followed by a NUL and returns its address.
func (s *Scratch) CString(str string) (uintptr, error) {
	n := len(str) + 1
	if n > s.size {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLong, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.off+n > s.size {
		s.off = 0
	}
	addr := s.base + uintptr(s.off)
	if err := memory.WriteCString(s.region, addr, str, n); err != nil {
		return 0, err
	}
	s.off += n
	return addr, nil
}

// Close releases the scratch space.
func (s *Scratch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == 0 {
		return nil
	}
	err := s.region.Free(s.base)
	s.base = 0
	return err
}
