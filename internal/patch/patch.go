// Package patch applies narrow, masked byte fixes to host code.
package patch

import (
	"fmt"

	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/scan"
)

// Patch is a masked overwrite: only bytes whose mask position is 'X' are
// written, every other byte is left as the host has it.
type Patch struct {
	Name     string
	Function string
	Offset   uintptr // from the located function
	Pattern  []byte
	Mask     string
}

// Parse builds a patch from the disassembler hex form, where "??" leaves a
// byte untouched:
//
//	EB ?? 90 90
func Parse(name, function string, offset uintptr, text string) (Patch, error) {
	sig, err := scan.ParseSignature(name, text)
	if err != nil {
		return Patch{}, err
	}
	return Patch{Name: name, Function: function, Offset: offset, Pattern: sig.Pattern, Mask: sig.Mask}, nil
}

// Validate checks the pattern and mask agree.
func (p Patch) Validate() error {
	if len(p.Pattern) == 0 || len(p.Pattern) != len(p.Mask) {
		return fmt.Errorf("patch %q: pattern length %d, mask length %d", p.Name, len(p.Pattern), len(p.Mask))
	}
	return nil
}

// Apply writes the masked bytes of pattern at addr.
//
// The pages are made read-write-execute for the duration of the write and
// their previous protection is restored on every path, including a failed
// write. Failures are logged and returned; patches are best-effort fixes and
// callers continue without them.
func Apply(r memory.Region, addr uintptr, pattern []byte, mask string, log *logging.Logger) (err error) {
	log = logging.OrNull(log).WithComponent("patch")
	if len(pattern) != len(mask) {
		return fmt.Errorf("patch at %#x: pattern length %d != mask length %d", addr, len(pattern), len(mask))
	}

	current, err := r.Read(addr, len(pattern))
	if err != nil {
		log.Warn("patch at %#x not applied: %v", addr, err)
		return fmt.Errorf("patch at %#x: %w", addr, err)
	}
	for i := range pattern {
		if mask[i] == scan.MaskMatch {
			current[i] = pattern[i]
		}
	}

	guard, err := memory.Unprotect(r, addr, len(pattern))
	if err != nil {
		log.Warn("patch at %#x not applied: cannot change protection: %v", addr, err)
		return fmt.Errorf("patch at %#x: %w", addr, err)
	}
	defer func() {
		if rerr := guard.Restore(); rerr != nil {
			log.Warn("patch at %#x: restoring protection: %v", addr, rerr)
			if err == nil {
				err = fmt.Errorf("patch at %#x: restore protection: %w", addr, rerr)
			}
		}
	}()

	if err := r.Write(addr, current); err != nil {
		log.Warn("patch at %#x not applied: %v", addr, err)
		return fmt.Errorf("patch at %#x: %w", addr, err)
	}
	log.Debug("patched %d bytes at %#x", len(pattern), addr)
	return nil
}

// ApplyAt locates the function the patch belongs to in resolved and applies
// it there. A function that was not resolved skips the patch.
func ApplyAt(r memory.Region, resolved *scan.Resolved, p Patch, log *logging.Logger) error {
	if err := p.Validate(); err != nil {
		return err
	}
	base, ok := resolved.Lookup(p.Function)
	if !ok {
		logging.OrNull(log).WithComponent("patch").Warn("patch %s skipped: %s not resolved", p.Name, p.Function)
		return fmt.Errorf("patch %s: %w: %s", p.Name, scan.ErrScanMiss, p.Function)
	}
	return Apply(r, base+p.Offset, p.Pattern, p.Mask, log)
}
