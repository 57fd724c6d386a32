// Package host is the facade plugins and remote tools use to inspect and
// drive the server. Lookups are range-checked before any memory access and
// calls into the engine use the original implementations, so a call made
// from inside an event handler never re-enters the hooks.
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/scan"
	"github.com/dshills/gamehook/internal/view"
)

// MaxClients is the size of the engine's client table.
const MaxClients = 64

// MaxEntities is the size of the game module's entity table.
const MaxEntities = 1024

var (
	// ErrUnavailable is returned when the engine function or table needed
	// for an operation was not located.
	ErrUnavailable = errors.New("feature unavailable")

	// ErrQueueFull is returned when the console command queue is full.
	ErrQueueFull = errors.New("command queue full")

	// ErrNoSuchCvar is returned when a console variable does not exist.
	ErrNoSuchCvar = errors.New("no such cvar")
)

// Config configures a Host.
type Config struct {
	Region   memory.Region
	Caller   detour.Caller
	Funcs    *scan.Resolved
	Layout   *view.Layout
	Scratch  *Scratch
	Log      *logging.Logger
	QueueLen int
}

// Host gives typed access to the running server.
type Host struct {
	region  memory.Region
	caller  detour.Caller
	funcs   *scan.Resolved
	layout  *view.Layout
	scratch *Scratch
	log     *logging.Logger
	queue   chan string

	mu         sync.RWMutex
	originals  map[string]uintptr
	clientsPtr uintptr // address of the variable holding the client array
	server     uintptr
	entities   uintptr
	maxClients int
}

// New creates a Host.
func New(cfg Config) *Host {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 256
	}
	if cfg.Layout == nil {
		l := view.DefaultLayout()
		cfg.Layout = &l
	}
	return &Host{
		region:     cfg.Region,
		caller:     cfg.Caller,
		funcs:      cfg.Funcs,
		layout:     cfg.Layout,
		scratch:    cfg.Scratch,
		log:        logging.OrNull(cfg.Log).WithComponent("host"),
		queue:      make(chan string, cfg.QueueLen),
		originals:  make(map[string]uintptr),
		maxClients: MaxClients,
	}
}

// Region returns the host memory.
func (h *Host) Region() memory.Region { return h.region }

// Layout returns the structure layout in use.
func (h *Host) Layout() *view.Layout { return h.layout }

// SetOriginal records the trampoline of a hooked function. Calls the facade
// makes to name go to addr instead of the hooked entry.
func (h *Host) SetOriginal(name string, addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr == 0 {
		delete(h.originals, name)
		return
	}
	h.originals[name] = addr
}

// BindClients records the address of the engine variable pointing at the
// client array.
func (h *Host) BindClients(ptrAddr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clientsPtr = ptrAddr
}

// BindServer records the address of the server state record.
func (h *Host) BindServer(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = addr
}

// BindEntities records the base of the game module's entity array.
func (h *Host) BindEntities(base uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entities = base
}

// SetMaxClients records the server's configured client count, capped at
// the table size.
func (h *Host) SetMaxClients(n int) {
	if n <= 0 || n > MaxClients {
		n = MaxClients
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxClients = n
}

// MaxClients returns the configured client count.
func (h *Host) MaxClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxClients
}

// fn returns the address to call for name.
func (h *Host) fn(name string) (uintptr, error) {
	h.mu.RLock()
	addr, ok := h.originals[name]
	h.mu.RUnlock()
	if ok {
		return addr, nil
	}
	if h.funcs != nil {
		if addr, ok := h.funcs.Lookup(name); ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%w: %s not located", ErrUnavailable, name)
}

func (h *Host) call(name string, args ...uintptr) (uintptr, error) {
	if h.caller == nil {
		return 0, fmt.Errorf("%w: no native caller", ErrUnavailable)
	}
	addr, err := h.fn(name)
	if err != nil {
		return 0, err
	}
	return h.caller.Call(addr, args...), nil
}

func (h *Host) cstring(s string) (uintptr, error) {
	if h.scratch == nil {
		return 0, fmt.Errorf("%w: no scratch space", ErrUnavailable)
	}
	return h.scratch.CString(s)
}

// CString copies s into host memory for a native call.
func (h *Host) CString(s string) (uintptr, error) {
	return h.cstring(s)
}

func (h *Host) clientTable() (view.Table, error) {
	h.mu.RLock()
	ptrAddr, maxClients := h.clientsPtr, h.maxClients
	h.mu.RUnlock()

	t := view.Table{Kind: "client", Stride: h.layout.Client.Size, Max: maxClients}
	if ptrAddr == 0 {
		return t, fmt.Errorf("%w: client table", ErrUnavailable)
	}
	base, err := memory.ReadPointer(h.region, ptrAddr)
	if err != nil {
		return t, err
	}
	t.Base = base
	return t, nil
}

// Client returns the engine record for client slot id.
func (h *Host) Client(id int) (view.Client, error) {
	if err := view.CheckRange("client", id, h.MaxClients()); err != nil {
		return view.Client{}, err
	}
	t, err := h.clientTable()
	if err != nil {
		return view.Client{}, err
	}
	return view.ClientAt(h.region, t, id, &h.layout.Client)
}

// ClientID returns the slot of the client record at addr.
func (h *Host) ClientID(addr uintptr) (int, bool) {
	t, err := h.clientTable()
	if err != nil {
		return 0, false
	}
	return t.Index(addr)
}

func (h *Host) entityTable() view.Table {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return view.Table{Kind: "entity", Base: h.entities, Stride: h.layout.Entity.Size, Max: MaxEntities}
}

// Entity returns the game entity in slot id.
func (h *Host) Entity(id int) (view.Entity, error) {
	if err := view.CheckRange("entity", id, MaxEntities); err != nil {
		return view.Entity{}, err
	}
	t := h.entityTable()
	if t.Base == 0 {
		return view.Entity{}, fmt.Errorf("%w: entity table", ErrUnavailable)
	}
	return view.EntityAt(h.region, t, id, h.layout)
}

// EntityID returns the slot of the entity record at addr.
func (h *Host) EntityID(addr uintptr) (int, bool) {
	return h.entityTable().Index(addr)
}

// Player returns the entity of client id. Player entities share the
// client's slot number.
func (h *Host) Player(id int) (view.Entity, error) {
	if err := view.CheckRange("player", id, h.MaxClients()); err != nil {
		return view.Entity{}, err
	}
	return h.Entity(id)
}

// Server returns the server state record.
func (h *Host) Server() (view.Server, error) {
	h.mu.RLock()
	addr := h.server
	h.mu.RUnlock()
	return view.NewServer(h.region, addr, &h.layout.Server)
}

// Cvar returns the console variable called name.
func (h *Host) Cvar(name string) (view.Cvar, error) {
	s, err := h.cstring(name)
	if err != nil {
		return view.Cvar{}, err
	}
	addr, err := h.call(FnCvarFindVar, s)
	if err != nil {
		return view.Cvar{}, err
	}
	if addr == 0 {
		return view.Cvar{}, fmt.Errorf("%w: %s", ErrNoSuchCvar, name)
	}
	return view.NewCvar(h.region, addr, &h.layout.Cvar)
}

// SetCvar sets a console variable through the engine's own setter, creating
// it when it does not exist.
func (h *Host) SetCvar(name, value string) error {
	n, err := h.cstring(name)
	if err != nil {
		return err
	}
	v, err := h.cstring(value)
	if err != nil {
		return err
	}
	_, err = h.call(FnCvarSet, n, v)
	return err
}

// Send sends a server command to client id, or to every client when id is
// -1.
func (h *Host) Send(id int, text string) error {
	var client uintptr
	if id != -1 {
		c, err := h.Client(id)
		if err != nil {
			return err
		}
		client = c.Addr()
	}
	if f, ok := h.caller.(detour.Formatter); ok {
		addr, err := h.fn(FnSVSendServerCommand)
		if err != nil {
			return err
		}
		f.CallFormat(addr, []uintptr{client}, text)
		return nil
	}
	f, err := h.cstring("%s")
	if err != nil {
		return err
	}
	s, err := h.cstring(text)
	if err != nil {
		return err
	}
	_, err = h.call(FnSVSendServerCommand, client, f, s)
	return err
}

// Kick drops client id with reason.
func (h *Host) Kick(id int, reason string) error {
	c, err := h.Client(id)
	if err != nil {
		return err
	}
	r, err := h.cstring(reason)
	if err != nil {
		return err
	}
	_, err = h.call(FnSVDropClient, c.Addr(), r)
	return err
}

// Command queues a console command for execution on the server thread at
// the next frame. It never blocks.
func (h *Host) Command(text string) error {
	select {
	case h.queue <- text:
		return nil
	default:
		h.log.Warn("dropping console command %q: queue full", text)
		return ErrQueueFull
	}
}

// Pending returns the number of queued commands.
func (h *Host) Pending() int {
	return len(h.queue)
}

// RunCommands executes the queued console commands. It must be called on
// the server thread and returns how many ran.
func (h *Host) RunCommands() int {
	n := 0
	for {
		select {
		case text := <-h.queue:
			s, err := h.cstring(text + "\n")
			if err == nil {
				_, err = h.call(FnCmdExecuteString, s)
			}
			if err != nil {
				h.log.Warn("console command %q: %v", text, err)
				continue
			}
			n++
		default:
			return n
		}
	}
}
