// Package intercept installs the detours on the host server and turns each
// intercepted call into an event dispatch.
//
// Engine functions are hooked at startup. Game logic lives in a module the
// engine loads later; the detour on the engine's module-offset callback
// locates and hooks it once it is mapped. Replacement bodies run on the
// server thread and call the original implementation through the hook's
// trampoline unless the event suppressed it.
package intercept

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
	"github.com/dshills/gamehook/internal/host"
	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/patch"
	"github.com/dshills/gamehook/internal/scan"
)

// DefaultGameModule is the name of the game logic module.
const DefaultGameModule = "qagame"

// maxString bounds strings read from host memory.
const maxString = 1024

var (
	// ErrModuleNotFound is returned when a module cannot be located in the
	// address space.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNoFormatter is returned when a printf-style function is hooked
	// with a Caller that cannot format native arguments.
	ErrNoFormatter = errors.New("caller cannot hook printf-style functions")
)

// Config configures an Interceptor.
type Config struct {
	Region   memory.Region
	Caller   detour.Caller
	Engine   *detour.Engine
	Resolver *scan.Resolver
	Policy   scan.Policy
	Funcs    *scan.Resolved
	Host     *host.Host
	Events   *event.Registry

	// Overrides replaces built-in signatures by target name.
	Overrides map[string]string

	// Patches are applied once the module holding their function has been
	// located, before its hooks are installed. A patch that cannot be
	// applied is logged and skipped.
	Patches []patch.Patch

	// FindModule locates a loaded module by name.
	FindModule func(name string) (memory.Module, bool)

	// GameModule names the late-loaded game module.
	GameModule string

	// OnFatal is called when the game module cannot be hooked and a
	// required target is involved. It defaults to panicking.
	OnFatal func(error)

	Log *logging.Logger
}

// Interceptor owns the hooks installed on the host.
type Interceptor struct {
	region     memory.Region
	caller     detour.Caller
	engine     *detour.Engine
	resolver   *scan.Resolver
	policy     scan.Policy
	funcs      *scan.Resolved
	host       *host.Host
	events     *event.Registry
	overrides  map[string]string
	patches    []patch.Patch
	findModule func(string) (memory.Module, bool)
	gameModule string
	onFatal    func(error)
	log        *logging.Logger

	mu       sync.RWMutex
	handles  map[string]*detour.Handle
	gameBase uintptr

	frame    atomic.Int64
	printing atomic.Bool
}

type hook struct {
	name string
	body any
}

// printf is the body of a hook on a printf-style function. It receives the
// lead arguments before the format and the formatted text.
type printf struct {
	lead int
	fn   func(lead []uintptr, text string) uintptr
}

// New creates an Interceptor. Nothing is installed until Start.
func New(cfg Config) *Interceptor {
	if cfg.GameModule == "" {
		cfg.GameModule = DefaultGameModule
	}
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(err error) { panic(err) }
	}
	if cfg.Funcs == nil {
		cfg.Funcs = scan.NewResolved()
	}
	return &Interceptor{
		region:     cfg.Region,
		caller:     cfg.Caller,
		engine:     cfg.Engine,
		resolver:   cfg.Resolver,
		policy:     cfg.Policy,
		funcs:      cfg.Funcs,
		host:       cfg.Host,
		events:     cfg.Events,
		overrides:  cfg.Overrides,
		patches:    cfg.Patches,
		findModule: cfg.FindModule,
		gameModule: cfg.GameModule,
		onFatal:    cfg.OnFatal,
		log:        logging.OrNull(cfg.Log).WithComponent("intercept"),
		handles:    make(map[string]*detour.Handle),
	}
}

func (ic *Interceptor) engineHooks() []hook {
	return []hook{
		{host.FnSVExecuteClientCmd, ic.clientCommand},
		{host.FnSVSendServerCommand, printf{1, ic.serverCommand}},
		{host.FnComPrintf, printf{0, ic.comPrintf}},
		{host.FnSVSetConfigstring, ic.setConfigstring},
		{host.FnSVClientEnterWorld, ic.clientEnterWorld},
		{host.FnSVDropClient, ic.dropClient},
		{host.FnSysSetModuleOffset, ic.setModuleOffset},
	}
}

func (ic *Interceptor) gameHooks() []hook {
	return []hook{
		{host.FnGInitGame, ic.initGame},
		{host.FnGRunFrame, ic.runFrame},
		{host.FnClientConnect, ic.clientConnect},
		{host.FnClientSpawn, ic.clientSpawn},
		{host.FnGDamage, ic.damage},
	}
}

// Start resolves the engine targets in mod and installs the engine hooks.
// A required target that is missing or cannot be hooked is an error, as is
// any attempt to hook a function twice.
func (ic *Interceptor) Start(mod memory.Module) error {
	ic.log.Info("host module %s at %#x-%#x", mod.Path, mod.Base, mod.End)
	if err := ic.locate(mod, EngineTargets); err != nil {
		return err
	}
	if addr, ok := ic.funcs.Lookup(host.DataClients); ok {
		ic.host.BindClients(addr)
	}
	if addr, ok := ic.funcs.Lookup(host.DataServer); ok {
		ic.host.BindServer(addr)
	}
	ic.applyPatches(EngineTargets)
	return ic.install(ic.engineHooks())
}

// StartModule finds the named module and starts on it.
func (ic *Interceptor) StartModule(name string) error {
	mod, ok := ic.find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return ic.Start(mod)
}

func (ic *Interceptor) find(name string) (memory.Module, bool) {
	if ic.findModule == nil {
		return memory.Module{}, false
	}
	return ic.findModule(name)
}

func (ic *Interceptor) locate(mod memory.Module, targets []Target) error {
	sigs, err := Signatures(targets, ic.overrides)
	if err != nil {
		return err
	}
	if err := ic.resolver.Resolve(mod, sigs, ic.funcs); err != nil {
		return err
	}
	return ic.resolveData(targets)
}

// resolveData replaces the match address of each found data target with
// the address its instruction refers to.
func (ic *Interceptor) resolveData(targets []Target) error {
	for _, t := range targets {
		if !t.Data {
			continue
		}
		match, ok := ic.funcs.Lookup(t.Name)
		if !ok {
			continue
		}
		addr, err := detour.RIPTarget(ic.region, match+uintptr(t.Ref))
		if err != nil {
			ic.funcs.Forget(t.Name)
			err = fmt.Errorf("data reference %s: %w", t.Name, err)
			if ic.policy.IsRequired(t.Name) {
				return err
			}
			ic.log.Warn("%v; its feature is disabled", err)
			continue
		}
		ic.funcs.Set(t.Name, addr)
		ic.log.Debug("%s is at %#x", t.Name, addr)
	}
	return nil
}

// applyPatches applies the patches whose function is one of targets.
func (ic *Interceptor) applyPatches(targets []Target) {
	for _, p := range ic.patches {
		if !contains(targets, p.Function) {
			continue
		}
		if err := patch.ApplyAt(ic.region, ic.funcs, p, ic.log); err != nil {
			continue
		}
		ic.log.Info("applied patch %s to %s+%#x", p.Name, p.Function, p.Offset)
	}
}

func contains(targets []Target, name string) bool {
	for _, t := range targets {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (ic *Interceptor) install(hooks []hook) error {
	for _, hk := range hooks {
		target, ok := ic.funcs.Lookup(hk.name)
		if !ok {
			continue
		}
		if err := ic.hook(hk, target); err != nil {
			if errors.Is(err, detour.ErrAlreadyHooked) || ic.policy.IsRequired(hk.name) {
				return err
			}
			ic.log.Warn("%v; its feature is disabled", err)
		}
	}
	return nil
}

func (ic *Interceptor) hook(hk hook, target uintptr) error {
	entry, err := ic.entry(hk)
	if err != nil {
		return fmt.Errorf("hook %s: %w", hk.name, err)
	}
	h, err := ic.engine.Install(hk.name, target, entry)
	if err != nil {
		return err
	}
	ic.host.SetOriginal(hk.name, h.Trampoline())

	ic.mu.Lock()
	ic.handles[hk.name] = h
	ic.mu.Unlock()

	ic.log.Info("hooked %s at %#x", hk.name, target)
	return nil
}

// entry returns the native entry point calls to hk are redirected to.
func (ic *Interceptor) entry(hk hook) (uintptr, error) {
	pf, ok := hk.body.(printf)
	if !ok {
		return ic.caller.Callback(hk.body), nil
	}
	f, ok := ic.caller.(detour.Formatter)
	if !ok {
		return 0, ErrNoFormatter
	}
	return f.FormatCallback(pf.lead, pf.fn)
}

// Hooked reports whether name is hooked.
func (ic *Interceptor) Hooked(name string) bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	_, ok := ic.handles[name]
	return ok
}

// Frames returns the number of frames run since start.
func (ic *Interceptor) Frames() int64 { return ic.frame.Load() }

// LoadGame locates and hooks the named game module. A module whose hooks
// are still in place is left alone. Otherwise the hooks and addresses of a
// previous load are dropped and the module is resolved afresh, since the
// engine may have unmapped it or mapped it again at another base.
func (ic *Interceptor) LoadGame(name string) error {
	mod, ok := ic.find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if ic.gameHooked(mod) {
		ic.log.Debug("game module %s already hooked at %#x", name, mod.Base)
		return nil
	}
	ic.unhookGame()

	if err := ic.locate(mod, GameTargets); err != nil {
		return err
	}
	if addr, ok := ic.funcs.Lookup(host.DataEntities); ok {
		ic.host.BindEntities(addr)
	}
	ic.applyPatches(GameTargets)
	if err := ic.install(ic.gameHooks()); err != nil {
		return err
	}

	ic.mu.Lock()
	ic.gameBase = mod.Base
	ic.mu.Unlock()

	ic.log.Info("game module %s hooked at %#x", name, mod.Base)
	ic.events.Dispatch(events.ModuleLoaded, events.NewModuleLoaded(name, mod.Base))
	return nil
}

// gameHooked reports whether mod is the module last hooked and every game
// hook still redirects its target.
func (ic *Interceptor) gameHooked(mod memory.Module) bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	if ic.gameBase != mod.Base {
		return false
	}
	found := false
	for _, hk := range ic.gameHooks() {
		h := ic.handles[hk.name]
		if h == nil {
			continue
		}
		if !h.Live() {
			return false
		}
		found = true
	}
	return found
}

// unhookGame removes the hooks and forgets the addresses of the previous
// game module load. Hooks whose code is gone are released without
// restoring it.
func (ic *Interceptor) unhookGame() {
	ic.mu.Lock()
	var stale []*detour.Handle
	for _, hk := range ic.gameHooks() {
		if h := ic.handles[hk.name]; h != nil {
			stale = append(stale, h)
			delete(ic.handles, hk.name)
		}
	}
	ic.gameBase = 0
	ic.mu.Unlock()

	for _, h := range stale {
		ic.host.SetOriginal(h.Name(), 0)
		if !h.Live() {
			h.Release()
			continue
		}
		if err := h.Close(); err != nil {
			ic.log.Warn("unhook %s: %v", h.Name(), err)
			h.Release()
		}
	}
	for _, t := range GameTargets {
		ic.funcs.Forget(t.Name)
	}
	if len(stale) > 0 {
		ic.log.Info("removed %d hooks from the previous game module", len(stale))
	}
}

// original calls the unhooked implementation of name.
func (ic *Interceptor) original(name string, args ...uintptr) uintptr {
	ic.mu.RLock()
	h := ic.handles[name]
	ic.mu.RUnlock()
	if h == nil {
		ic.log.Error("no original for %s", name)
		return 0
	}
	return detour.Original(ic.caller, h, args...)
}

// originalText calls the printf-style original of name with lead, a "%s"
// format and text.
func (ic *Interceptor) originalText(name, text string, lead ...uintptr) uintptr {
	ic.mu.RLock()
	h := ic.handles[name]
	ic.mu.RUnlock()
	f, ok := ic.caller.(detour.Formatter)
	if h == nil || !ok {
		ic.log.Error("no original for %s", name)
		return 0
	}
	return f.CallFormat(h.Trampoline(), lead, text)
}

func (ic *Interceptor) str(addr uintptr) (string, bool) {
	if addr == 0 {
		return "", false
	}
	s, err := memory.ReadCString(ic.region, addr, maxString)
	if err != nil {
		ic.log.Debug("read string at %#x: %v", addr, err)
		return "", false
	}
	return s, true
}

// i32 reads a C int argument passed in a 64-bit register.
func i32(v uintptr) int { return int(int32(uint32(v))) }
