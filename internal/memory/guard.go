package memory

import (
	"errors"
	"fmt"
)

// Guard holds a temporarily relaxed protection on a range of pages.
// Restore puts back the protection each page had when the guard was taken.
type Guard struct {
	region   Region
	saved    []Mapping
	restored bool
}

// Unprotect makes every page touched by [addr, addr+n) read-write-execute
// and returns a Guard that restores the previous protection. If any page
// cannot be changed, pages already changed are restored before returning.
//
//	g, err := memory.Unprotect(r, addr, len(code))
//	if err != nil {
//		return err
//	}
//	defer g.Restore()
func Unprotect(r Region, addr uintptr, n int) (*Guard, error) {
	start, length := PageAlign(addr, n)
	g := &Guard{region: r}

	for page := start; page < start+length; page += PageSize {
		m, err := r.Query(page)
		if err != nil {
			_ = g.Restore()
			return nil, fmt.Errorf("unprotect %#x: %w", page, err)
		}
		if err := r.Protect(page, PageSize, ProtRWX); err != nil {
			_ = g.Restore()
			return nil, fmt.Errorf("unprotect %#x: %w", page, err)
		}
		g.saved = append(g.saved, Mapping{Start: page, End: page + PageSize, Prot: m.Prot})
	}
	return g, nil
}

// Restore puts back the saved protections. It is safe to call more than once.
func (g *Guard) Restore() error {
	if g == nil || g.restored {
		return nil
	}
	g.restored = true

	var errs []error
	for _, m := range g.saved {
		if err := g.region.Protect(m.Start, int(m.Size()), m.Prot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteProtected writes data at addr with the pages temporarily made
// writable, restoring their protection afterwards even when the write fails.
func WriteProtected(r Region, addr uintptr, data []byte) (err error) {
	g, err := Unprotect(r, addr, len(data))
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Restore(); rerr != nil && err == nil {
			err = fmt.Errorf("restore protection at %#x: %w", addr, rerr)
		}
	}()
	return r.Write(addr, data)
}
