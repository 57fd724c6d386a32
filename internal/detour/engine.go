// Package detour redirects native functions in the host process to
// replacement functions while keeping the original callable.
//
// Installing a hook copies the whole instructions covering the target's
// first JumpSize bytes into a trampoline, followed by a jump back to the
// remainder of the target, then overwrites the target's entry with an
// absolute jump to the replacement. Calling the trampoline therefore runs
// the original function.
//
// Entry bytes are rewritten with an ordinary copy, which is not atomic for a
// thread executing them. Hook state only changes on the host's server
// thread, or while that thread is not running hooked code.
package detour

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
)

// Engine owns every hook installed in a region. At most one live hook may
// exist per target address.
type Engine struct {
	mu     sync.Mutex
	region memory.Region
	hooks  map[uintptr]*Handle
	log    *logging.Logger
}

// NewEngine creates an engine operating on region.
func NewEngine(region memory.Region, log *logging.Logger) *Engine {
	return &Engine{
		region: region,
		hooks:  make(map[uintptr]*Handle),
		log:    logging.OrNull(log).WithComponent("detour"),
	}
}

// Install hooks target so that calls reach replacement, and enables the
// hook. The returned handle's Trampoline calls the original function.
func (e *Engine) Install(name string, target, replacement uintptr) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fail := func(err error) (*Handle, error) {
		e.log.Error("install %s at %#x: %v", name, target, err)
		return nil, &HookError{Op: "install", Name: name, Addr: target, Err: err}
	}

	if _, exists := e.hooks[target]; exists {
		return fail(ErrAlreadyHooked)
	}
	if other := e.overlapping(target); other != nil {
		return fail(fmt.Errorf("%w: overlaps %s at %#x", ErrAlreadyHooked, other.name, other.target))
	}
	if target == 0 || replacement == 0 {
		return fail(ErrInvalidAddress)
	}
	m, err := e.region.Query(target)
	if err != nil || m.Prot&memory.ProtExec == 0 {
		return fail(ErrInvalidAddress)
	}

	avail := int(m.End - target)
	if avail > JumpSize+maxInstLen {
		avail = JumpSize + maxInstLen
	}
	code, err := e.region.Read(target, avail)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidAddress, err))
	}

	tramp, err := e.region.Alloc(JumpSize+maxInstLen+JumpSize, target)
	if err != nil {
		return fail(err)
	}
	body, stolen, err := buildTrampoline(code, target, tramp)
	if err != nil {
		_ = e.region.Free(tramp)
		return fail(err)
	}
	if err := e.region.Write(tramp, body); err != nil {
		_ = e.region.Free(tramp)
		return fail(err)
	}

	h := &Handle{
		engine:      e,
		name:        name,
		target:      target,
		replacement: replacement,
		trampoline:  tramp,
		stolen:      stolen,
		saved:       append([]byte(nil), code[:JumpSize]...),
		redirect:    EncodeJump(replacement),
	}
	if err := h.write(h.redirect); err != nil {
		_ = e.region.Free(tramp)
		return fail(err)
	}
	h.enabled = true
	e.hooks[target] = h

	e.log.Debug("hooked %s at %#x -> %#x (trampoline %#x, %d bytes stolen)", name, target, replacement, tramp, stolen)
	return h, nil
}

// overlapping returns a live hook whose entry jump shares bytes with a jump
// written at target.
func (e *Engine) overlapping(target uintptr) *Handle {
	for _, h := range e.hooks {
		if target < h.target+JumpSize && h.target < target+JumpSize {
			return h
		}
	}
	return nil
}

// Lookup returns the live hook on target.
func (e *Engine) Lookup(target uintptr) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.hooks[target]
	return h, ok
}

// Handles returns the live hooks ordered by target address.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Handle, 0, len(e.hooks))
	for _, h := range e.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].target < out[j].target })
	return out
}

// Len returns the number of live hooks.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hooks)
}

// DisableAll disables every live hook. Hooks stay installed and their
// trampolines remain callable.
func (e *Engine) DisableAll() error {
	var errs []error
	for _, h := range e.Handles() {
		if err := h.Disable(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close removes every hook, restoring the original bytes.
func (e *Engine) Close() error {
	var errs []error
	for _, h := range e.Handles() {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) forget(h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hooks[h.target] == h {
		delete(e.hooks, h.target)
	}
}

// Handle is one installed hook.
type Handle struct {
	engine      *Engine
	name        string
	target      uintptr
	replacement uintptr
	trampoline  uintptr
	stolen      int
	saved       []byte
	redirect    []byte

	mu      sync.Mutex
	enabled bool
	closed  bool
}

// Name returns the hooked function's name.
func (h *Handle) Name() string { return h.name }

// Target returns the hooked address.
func (h *Handle) Target() uintptr { return h.target }

// Replacement returns the function calls are redirected to.
func (h *Handle) Replacement() uintptr { return h.replacement }

// Trampoline returns the address that runs the original function. It stays
// valid while the hook is disabled and until Close.
func (h *Handle) Trampoline() uintptr { return h.trampoline }

// Stolen returns how many bytes of the target were moved into the trampoline.
func (h *Handle) Stolen() int { return h.stolen }

// Enabled reports whether calls to the target currently reach the replacement.
func (h *Handle) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Enable redirects the target to the replacement.
func (h *Handle) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &HookError{Op: "enable", Name: h.name, Addr: h.target, Err: ErrClosed}
	}
	if h.enabled {
		return nil
	}
	if err := h.write(h.redirect); err != nil {
		return &HookError{Op: "enable", Name: h.name, Addr: h.target, Err: err}
	}
	h.enabled = true
	return nil
}

// Disable puts the original entry bytes back. The hook stays registered.
func (h *Handle) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &HookError{Op: "disable", Name: h.name, Addr: h.target, Err: ErrClosed}
	}
	if !h.enabled {
		return nil
	}
	if err := h.restore(); err != nil {
		return &HookError{Op: "disable", Name: h.name, Addr: h.target, Err: err}
	}
	h.enabled = false
	return nil
}

// Close restores the original bytes, releases the trampoline and removes
// the hook from its engine. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if h.enabled {
		if err := h.restore(); err != nil {
			return &HookError{Op: "remove", Name: h.name, Addr: h.target, Err: err}
		}
		h.enabled = false
	}
	h.closed = true
	h.engine.forget(h)
	if err := h.engine.region.Free(h.trampoline); err != nil {
		h.engine.log.Warn("free trampoline for %s: %v", h.name, err)
	}
	h.engine.log.Debug("unhooked %s at %#x", h.name, h.target)
	return nil
}

// Release removes the hook without touching the target, for code that was
// unmapped or replaced since the hook was installed. The trampoline is
// freed.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.enabled = false
	h.closed = true
	h.engine.forget(h)
	if err := h.engine.region.Free(h.trampoline); err != nil {
		h.engine.log.Warn("free trampoline for %s: %v", h.name, err)
	}
	h.engine.log.Debug("released %s at %#x", h.name, h.target)
}

// Live reports whether the target's entry still jumps to the replacement.
func (h *Handle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.enabled {
		return false
	}
	dest, err := Destination(h.engine.region, h.target)
	return err == nil && dest == h.replacement
}

func (h *Handle) write(data []byte) error {
	return memory.WriteProtected(h.engine.region, h.target, data)
}

// restore writes the saved bytes and confirms they read back unchanged.
func (h *Handle) restore() error {
	if err := h.write(h.saved); err != nil {
		return err
	}
	got, err := h.engine.region.Read(h.target, len(h.saved))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}
	if !bytes.Equal(got, h.saved) {
		return ErrRestore
	}
	return nil
}

// Destination follows an entry jump at addr and returns where a call to
// addr would land. Unhooked addresses return themselves.
func Destination(r memory.Region, addr uintptr) (uintptr, error) {
	b, err := r.Read(addr, JumpSize)
	if err != nil {
		return 0, err
	}
	if dest, ok := DecodeJump(b); ok {
		return dest, nil
	}
	return addr, nil
}
