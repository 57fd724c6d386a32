package scan

import (
	"errors"
	"fmt"

	"github.com/dshills/gamehook/internal/memory"
)

// ErrShortRange is returned when the scanned range is shorter than the pattern.
var ErrShortRange = errors.New("scan range shorter than pattern")

// chunkSize bounds how much of the image is copied out of the region at once.
const chunkSize = 1 << 20

// Find returns the offset of the first window of data matching sig.
func Find(data []byte, sig Signature) (int, bool) {
	n := len(sig.Pattern)
	if n == 0 || n > len(data) {
		return 0, false
	}
	for i := 0; i <= len(data)-n; i++ {
		if matchAt(data[i:i+n], sig) {
			return i, true
		}
	}
	return 0, false
}

func matchAt(window []byte, sig Signature) bool {
	for j, b := range sig.Pattern {
		if sig.Mask[j] == MaskMatch && window[j] != b {
			return false
		}
	}
	return true
}

// Scan walks [base, base+length) of r forward and returns the address of the
// first match. A miss is reported as ok == false, not as an error; errors are
// only for unreadable memory or a range shorter than the pattern.
//
// The range is read in chunks that overlap by len(pattern)-1 bytes, so a
// match straddling a chunk boundary is still found and nothing beyond
// base+length is ever read.
func Scan(r memory.Region, base, length uintptr, sig Signature) (uintptr, bool, error) {
	if err := sig.Validate(); err != nil {
		return 0, false, err
	}
	n := uintptr(len(sig.Pattern))
	if length < n {
		return 0, false, fmt.Errorf("%w: %d < %d", ErrShortRange, length, n)
	}

	for off := uintptr(0); off+n <= length; {
		size := uintptr(chunkSize)
		if rem := length - off; rem < size {
			size = rem
		}
		data, err := r.Read(base+off, int(size))
		if err != nil {
			return 0, false, fmt.Errorf("scan %q at %#x: %w", sig.Name, base+off, err)
		}
		if i, ok := Find(data, sig); ok {
			return base + off + uintptr(i), true, nil
		}
		if off+size >= length {
			break
		}
		off += size - (n - 1)
	}
	return 0, false, nil
}
