// Package scan locates functions inside a loaded image by byte signature.
package scan

import (
	"fmt"
	"strconv"
	"strings"
)

// MaskMatch marks a mask position whose byte must match.
const MaskMatch = 'X'

// Signature is a byte pattern with a mask of equal length. Positions whose
// mask byte is 'X' must match; any other mask byte is a wildcard.
type Signature struct {
	Name    string
	Pattern []byte
	Mask    string
}

// NewSignature validates and returns a signature.
func NewSignature(name string, pattern []byte, mask string) (Signature, error) {
	sig := Signature{Name: name, Pattern: pattern, Mask: mask}
	return sig, sig.Validate()
}

// MustSignature is NewSignature for compile-time tables; it panics on a
// malformed signature.
func MustSignature(name string, pattern []byte, mask string) Signature {
	sig, err := NewSignature(name, pattern, mask)
	if err != nil {
		panic(err)
	}
	return sig
}

// Validate checks the pattern and mask agree.
func (s Signature) Validate() error {
	if len(s.Pattern) == 0 {
		return fmt.Errorf("signature %q: empty pattern", s.Name)
	}
	if len(s.Pattern) != len(s.Mask) {
		return fmt.Errorf("signature %q: pattern length %d != mask length %d", s.Name, len(s.Pattern), len(s.Mask))
	}
	if !strings.ContainsRune(s.Mask, MaskMatch) {
		return fmt.Errorf("signature %q: mask has no fixed bytes", s.Name)
	}
	return nil
}

// Len returns the pattern length.
func (s Signature) Len() int { return len(s.Pattern) }

// ParseSignature parses the space-separated hex form used by disassemblers,
// where "?" or "??" is a wildcard byte:
//
//	48 8B 05 ?? ?? ?? ?? 48 85 C0
func ParseSignature(name, text string) (Signature, error) {
	fields := strings.Fields(text)
	pattern := make([]byte, len(fields))
	mask := make([]byte, len(fields))
	for i, f := range fields {
		if f == "?" || f == "??" {
			mask[i] = '?'
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Signature{}, fmt.Errorf("signature %q: byte %d %q: %w", name, i, f, err)
		}
		pattern[i] = byte(v)
		mask[i] = MaskMatch
	}
	return NewSignature(name, pattern, string(mask))
}

// String renders the signature in the form ParseSignature accepts.
func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s.Pattern {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if i < len(s.Mask) && s.Mask[i] != MaskMatch {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
