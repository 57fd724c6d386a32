package lua

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
	"github.com/dshills/gamehook/internal/logging"
)

// Values handlers return to end the chain.
const (
	RetNone      = 0
	RetStop      = 1
	RetStopEvent = 2
	RetStopAll   = 3
)

// Events is the event registry scripts add handlers to.
type Events interface {
	Register(name, owner string, level int, fn event.Handler) (event.Registration, error)
	Unregister(name, owner string, id uuid.UUID) bool
	UnregisterOwner(owner string) int
	Levels() int
}

// Host is the server access scripts get.
type Host interface {
	Player(id int) (map[string]any, error)
	Cvar(name string) (string, error)
	SetCvar(name, value string) error
	Command(text string) error
	Send(id int, text string) error
}

// API exposes the host to one plugin's state. Every handler the plugin adds
// is registered with the plugin as owner.
type API struct {
	state  *State
	owner  string
	events Events
	host   Host
	log    *logging.Logger
	bridge *Bridge

	mu   sync.Mutex
	regs map[uuid.UUID]string
}

// NewAPI creates the API for the plugin owner running in s.
func NewAPI(s *State, owner string, ev Events, h Host, log *logging.Logger) *API {
	return &API{
		state:  s,
		owner:  owner,
		events: ev,
		host:   h,
		log:    logging.OrNull(log),
		bridge: NewBridge(s.L),
		regs:   make(map[uuid.UUID]string),
	}
}

// Install sets the hook, game and log tables and the RET_ and PRI_
// constants as globals.
func (a *API) Install() {
	a.state.RegisterModule("hook", map[string]lua.LGFunction{
		"add":    a.hookAdd,
		"remove": a.hookRemove,
	})
	a.state.RegisterModule("game", map[string]lua.LGFunction{
		"player":   a.gamePlayer,
		"cvar":     a.gameCvar,
		"set_cvar": a.gameSetCvar,
		"command":  a.gameCommand,
		"send":     a.gameSend,
	})
	a.state.RegisterModule("log", map[string]lua.LGFunction{
		"info": a.logInfo,
		"warn": a.logWarn,
	})

	consts := map[string]int{
		"RET_NONE":       RetNone,
		"RET_STOP":       RetStop,
		"RET_STOP_EVENT": RetStopEvent,
		"RET_STOP_ALL":   RetStopAll,
		"PRI_HIGHEST":    event.PriorityHighest,
		"PRI_HIGH":       event.PriorityHigh,
		"PRI_NORMAL":     event.PriorityNormal,
		"PRI_LOW":        event.PriorityLow,
		"PRI_LOWEST":     event.PriorityLowest,
	}
	for name, v := range consts {
		a.state.SetGlobal(name, lua.LNumber(v))
	}
}

// Len returns the number of handlers the plugin has registered.
func (a *API) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regs)
}

// Close removes every handler the plugin registered.
func (a *API) Close() int {
	a.mu.Lock()
	a.regs = make(map[uuid.UUID]string)
	a.mu.Unlock()
	return a.events.UnregisterOwner(a.owner)
}

// hook.add(event, fn[, priority]) -> id
func (a *API) hookAdd(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	level := L.OptInt(3, event.PriorityNormal)

	reg, err := a.events.Register(name, a.owner, level, a.handler(name, fn))
	if err != nil {
		L.RaiseError("hook.add(%q): %v", name, err)
		return 0
	}
	a.mu.Lock()
	a.regs[reg.ID] = name
	a.mu.Unlock()

	L.Push(lua.LString(reg.ID.String()))
	return 1
}

// hook.remove(event, id) -> bool
func (a *API) hookRemove(L *lua.LState) int {
	name := L.CheckString(1)
	id, err := uuid.Parse(L.CheckString(2))
	if err != nil {
		L.ArgError(2, "not a handler id")
		return 0
	}

	a.mu.Lock()
	registered := a.regs[id] == name
	if registered {
		delete(a.regs, id)
	}
	a.mu.Unlock()

	L.Push(lua.LBool(registered && a.events.Unregister(name, a.owner, id)))
	return 1
}

// handler adapts a Lua function to an event handler.
func (a *API) handler(name string, fn *lua.LFunction) event.Handler {
	spec, _ := events.Lookup(name)
	return func(p *event.Payload) (event.Outcome, error) {
		args := make([]lua.LValue, 0, len(p.Args)+1)
		for _, v := range p.Args {
			args = append(args, a.bridge.ToLuaValue(v))
		}
		if spec.Replaceable {
			args = append(args, a.bridge.ToLuaValue(p.Value))
		}

		rets, err := a.state.TryCall(fn, args...)
		switch {
		case errors.Is(err, ErrBusy), errors.Is(err, ErrStateClosed):
			a.log.Debug("skipping %s handler: %v", name, err)
			return event.Continue, nil
		case err != nil:
			return event.Continue, err
		}
		if len(rets) == 0 {
			return event.Continue, nil
		}
		return Outcome(rets[0])
	}
}

// Outcome converts a handler's return value.
func Outcome(v lua.LValue) (event.Outcome, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return event.Continue, nil
	case lua.LString:
		return event.Replace(string(v)), nil
	case lua.LNumber:
		switch int(v) {
		case RetNone:
			return event.Continue, nil
		case RetStop:
			return event.Stop, nil
		case RetStopEvent:
			return event.StopEvent, nil
		case RetStopAll:
			return event.StopAll, nil
		}
	}
	return event.Continue, fmt.Errorf("%w: %s", ErrBadReturn, v.String())
}

// pushResult pushes true on success or nil and the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// game.player(id) -> table | nil, err
func (a *API) gamePlayer(L *lua.LState) int {
	info, err := a.host.Player(L.CheckInt(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(a.bridge.ToLuaValue(info))
	return 1
}

// game.cvar(name) -> string | nil, err
func (a *API) gameCvar(L *lua.LState) int {
	v, err := a.host.Cvar(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(v))
	return 1
}

func (a *API) gameSetCvar(L *lua.LState) int {
	return pushResult(L, a.host.SetCvar(L.CheckString(1), L.CheckString(2)))
}

func (a *API) gameCommand(L *lua.LState) int {
	return pushResult(L, a.host.Command(L.CheckString(1)))
}

func (a *API) gameSend(L *lua.LState) int {
	return pushResult(L, a.host.Send(L.CheckInt(1), L.CheckString(2)))
}

func (a *API) logInfo(L *lua.LState) int {
	a.log.Info("%s", L.CheckString(1))
	return 0
}

func (a *API) logWarn(L *lua.LState) int {
	a.log.Warn("%s", L.CheckString(1))
	return 0
}
