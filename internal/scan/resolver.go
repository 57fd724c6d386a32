package scan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
)

// ErrScanMiss is matched by every *MissError.
var ErrScanMiss = errors.New("signature not found")

// MissError lists required signatures that were not found in a module.
type MissError struct {
	Module string
	Names  []string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("%s: required signatures not found in %s: %s", ErrScanMiss, e.Module, strings.Join(e.Names, ", "))
}

// Is lets errors.Is(err, ErrScanMiss) match.
func (e *MissError) Is(target error) bool {
	return target == ErrScanMiss
}

// Policy decides which misses are fatal. A name not listed is optional:
// missing it disables the feature that needs it and nothing else.
type Policy struct {
	required map[string]bool
}

// NewPolicy returns a policy requiring the named functions.
func NewPolicy(required ...string) Policy {
	p := Policy{required: make(map[string]bool, len(required))}
	for _, name := range required {
		p.required[name] = true
	}
	return p
}

// IsRequired reports whether a miss of name is fatal.
func (p Policy) IsRequired(name string) bool {
	return p.required[name]
}

// Required returns the required names, sorted.
func (p Policy) Required() []string {
	out := make([]string, 0, len(p.required))
	for name := range p.required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolved is the set of function addresses found in the host. The engine's
// are written at startup; the game module's are rewritten on each load.
type Resolved struct {
	mu     sync.RWMutex
	addrs  map[string]uintptr
	misses []string
}

// NewResolved returns an empty set.
func NewResolved() *Resolved {
	return &Resolved{addrs: make(map[string]uintptr)}
}

// Lookup returns the address of name.
func (r *Resolved) Lookup(name string) (uintptr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.addrs[name]
	return addr, ok
}

// Set records an address. Used by the resolver and by tests that wire fixed
// addresses.
func (r *Resolved) Set(name string, addr uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[name] = addr
}

// Forget removes name from the set.
func (r *Resolved) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, name)
}

// Misses returns the names that were not found, in scan order.
func (r *Resolved) Misses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.misses...)
}

// Names returns every resolved name, sorted.
func (r *Resolved) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.addrs))
	for name := range r.addrs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MissObserver is notified of each miss; the metrics package implements it.
type MissObserver interface {
	ScanMiss(module, name string, required bool)
}

// Resolver resolves signature tables against loaded modules.
type Resolver struct {
	region   memory.Region
	policy   Policy
	log      *logging.Logger
	observer MissObserver
}

// NewResolver creates a resolver.
func NewResolver(region memory.Region, policy Policy, log *logging.Logger) *Resolver {
	return &Resolver{
		region: region,
		policy: policy,
		log:    logging.OrNull(log).WithComponent("scan"),
	}
}

// SetObserver sets the miss observer.
func (rv *Resolver) SetObserver(o MissObserver) {
	rv.observer = o
}

// Resolve scans mod's executable mappings for every signature, recording
// hits into into and dropping any earlier address of a signature that
// misses. Every miss is logged; if any required signature is
// missing the returned error is a *MissError naming all of them.
func (rv *Resolver) Resolve(mod memory.Module, sigs []Signature, into *Resolved) error {
	ranges := mod.Executable()
	if len(ranges) == 0 {
		ranges = []memory.Mapping{{Start: mod.Base, End: mod.End}}
	}

	var fatal []string
	for _, sig := range sigs {
		addr, ok, err := rv.find(ranges, sig)
		if err != nil {
			return err
		}
		if ok {
			into.Set(sig.Name, addr)
			rv.log.Debug("resolved %s at %#x (%s+%#x)", sig.Name, addr, mod.Name, addr-mod.Base)
			continue
		}

		required := rv.policy.IsRequired(sig.Name)
		into.mu.Lock()
		delete(into.addrs, sig.Name)
		into.misses = append(into.misses, sig.Name)
		into.mu.Unlock()
		if rv.observer != nil {
			rv.observer.ScanMiss(mod.Name, sig.Name, required)
		}
		if required {
			rv.log.Error("required function %s not found in %s", sig.Name, mod.Name)
			fatal = append(fatal, sig.Name)
		} else {
			rv.log.Warn("function %s not found in %s; its feature is disabled", sig.Name, mod.Name)
		}
	}

	if len(fatal) > 0 {
		return &MissError{Module: mod.Name, Names: fatal}
	}
	return nil
}

func (rv *Resolver) find(ranges []memory.Mapping, sig Signature) (uintptr, bool, error) {
	for _, m := range ranges {
		if m.Size() < uintptr(sig.Len()) {
			continue
		}
		addr, ok, err := Scan(rv.region, m.Start, m.Size(), sig)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return addr, true, nil
		}
	}
	return 0, false, nil
}
