package intercept

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
	"github.com/dshills/gamehook/internal/host"
)

// DefaultRejectReason is shown to a client whose connection a handler
// suppressed without giving a reason.
const DefaultRejectReason = "You are not allowed to join this server."

// clientCommand replaces SV_ExecuteClientCommand(client, s, clientOK).
func (ic *Interceptor) clientCommand(cl, cmd, clientOK uintptr) uintptr {
	id, ok := ic.host.ClientID(cl)
	text, sok := ic.str(cmd)
	if !ok || !sok {
		return ic.original(host.FnSVExecuteClientCmd, cl, cmd, clientOK)
	}

	r := ic.events.Dispatch(events.ClientCommand, events.NewClientCommand(id, text))
	switch r.Decision {
	case event.Suppress:
		return 0
	case event.Replaced:
		if s, ok := r.Text(); ok {
			addr, err := ic.host.CString(s)
			if err == nil {
				return ic.original(host.FnSVExecuteClientCmd, cl, addr, clientOK)
			}
			ic.log.Warn("client command replacement: %v", err)
		}
	}
	return ic.original(host.FnSVExecuteClientCmd, cl, cmd, clientOK)
}

// serverCommand replaces SV_SendServerCommand(client, fmt, ...), receiving
// the formatted command. A null client is a broadcast.
func (ic *Interceptor) serverCommand(lead []uintptr, text string) uintptr {
	cl := lead[0]
	id := -1
	if cl != 0 {
		var ok bool
		if id, ok = ic.host.ClientID(cl); !ok {
			return ic.originalText(host.FnSVSendServerCommand, text, cl)
		}
	}

	r := ic.events.Dispatch(events.ServerCommand, events.NewServerCommand(id, text))
	switch r.Decision {
	case event.Suppress:
		return 0
	case event.Replaced:
		if s, ok := r.Text(); ok {
			text = s
		}
	}
	return ic.originalText(host.FnSVSendServerCommand, text, cl)
}

// comPrintf replaces Com_Printf(fmt, ...), receiving the formatted text.
// Output produced while a console_print dispatch is running is passed
// straight through.
func (ic *Interceptor) comPrintf(_ []uintptr, text string) uintptr {
	if !ic.printing.CompareAndSwap(false, true) {
		return ic.originalText(host.FnComPrintf, text)
	}
	r := ic.events.Dispatch(events.ConsolePrint, events.NewConsolePrint(text))
	ic.printing.Store(false)

	switch r.Decision {
	case event.Suppress:
		return 0
	case event.Replaced:
		if s, ok := r.Text(); ok {
			text = s
		}
	}
	return ic.originalText(host.FnComPrintf, text)
}

// setConfigstring replaces SV_SetConfigstring(index, value).
func (ic *Interceptor) setConfigstring(index, value uintptr) uintptr {
	text, _ := ic.str(value)
	r := ic.events.Dispatch(events.SetConfigstring, events.NewSetConfigstring(i32(index), text))
	switch r.Decision {
	case event.Suppress:
		return 0
	case event.Replaced:
		if s, ok := r.Text(); ok {
			addr, err := ic.host.CString(s)
			if err == nil {
				return ic.original(host.FnSVSetConfigstring, index, addr)
			}
			ic.log.Warn("configstring replacement: %v", err)
		}
	}
	return ic.original(host.FnSVSetConfigstring, index, value)
}

// clientEnterWorld replaces SV_ClientEnterWorld(client, cmd).
func (ic *Interceptor) clientEnterWorld(cl, cmd uintptr) uintptr {
	ret := ic.original(host.FnSVClientEnterWorld, cl, cmd)
	if id, ok := ic.host.ClientID(cl); ok {
		ic.events.Dispatch(events.PlayerLoaded, events.NewPlayerLoaded(id))
	}
	return ret
}

// dropClient replaces SV_DropClient(client, reason). The event runs while
// the client record is still intact.
func (ic *Interceptor) dropClient(cl, reason uintptr) uintptr {
	if id, ok := ic.host.ClientID(cl); ok {
		text, _ := ic.str(reason)
		ic.events.Dispatch(events.PlayerDisconnect, events.NewPlayerDisconnect(id, text))
	}
	return ic.original(host.FnSVDropClient, cl, reason)
}

// setModuleOffset replaces Sys_SetModuleOffset(name, offset), which the
// engine calls once a module is mapped.
func (ic *Interceptor) setModuleOffset(name, offset uintptr) uintptr {
	ret := ic.original(host.FnSysSetModuleOffset, name, offset)

	mod, ok := ic.str(name)
	if !ok || !ic.isGameModule(mod) {
		return ret
	}
	if err := ic.LoadGame(ic.gameModule); err != nil {
		if errors.Is(err, ErrModuleNotFound) {
			ic.log.Warn("%v; game events are disabled", err)
			return ret
		}
		ic.log.Error("hook game module: %v", err)
		ic.onFatal(err)
	}
	return ret
}

func (ic *Interceptor) isGameModule(name string) bool {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return strings.HasPrefix(base, ic.gameModule)
}

// initGame replaces G_InitGame(levelTime, randomSeed, restart).
func (ic *Interceptor) initGame(levelTime, seed, restart uintptr) uintptr {
	ret := ic.original(host.FnGInitGame, levelTime, seed, restart)
	if cv, err := ic.host.Cvar("sv_maxclients"); err == nil {
		if n, err := cv.Integer(); err == nil {
			ic.host.SetMaxClients(int(n))
		}
	}
	ic.events.Dispatch(events.NewGame, events.NewNewGame(restart != 0))
	return ret
}

// runFrame replaces G_RunFrame(levelTime). Queued console commands run
// before the frame event.
func (ic *Interceptor) runFrame(levelTime uintptr) uintptr {
	ic.host.RunCommands()
	ic.events.Dispatch(events.Frame, events.NewFrame(ic.frame.Add(1)))
	return ic.original(host.FnGRunFrame, levelTime)
}

// clientConnect replaces ClientConnect(clientNum, firstTime, isBot). The
// game rejects a connection by returning a reason string.
func (ic *Interceptor) clientConnect(num, firstTime, isBot uintptr) uintptr {
	r := ic.events.Dispatch(events.PlayerConnect,
		events.NewPlayerConnect(i32(num), firstTime != 0, isBot != 0))

	reason, replaced := r.Text()
	switch {
	case replaced:
	case r.Suppressed():
		reason = DefaultRejectReason
	default:
		return ic.original(host.FnClientConnect, num, firstTime, isBot)
	}
	addr, err := ic.host.CString(reason)
	if err != nil {
		ic.log.Warn("reject client %d: %v", i32(num), err)
		return ic.original(host.FnClientConnect, num, firstTime, isBot)
	}
	return addr
}

// clientSpawn replaces ClientSpawn(ent).
func (ic *Interceptor) clientSpawn(ent uintptr) uintptr {
	ret := ic.original(host.FnClientSpawn, ent)
	if id, ok := ic.host.EntityID(ent); ok && id < ic.host.MaxClients() {
		ic.events.Dispatch(events.PlayerSpawn, events.NewPlayerSpawn(id))
	}
	return ret
}

// damage replaces G_Damage(targ, inflictor, attacker, dir, point, damage,
// dflags, mod).
func (ic *Interceptor) damage(targ, inflictor, attacker, dir, point, dmg, dflags, mod uintptr) uintptr {
	ret := ic.original(host.FnGDamage, targ, inflictor, attacker, dir, point, dmg, dflags, mod)
	target, ok := ic.host.EntityID(targ)
	if !ok {
		return ret
	}
	from := -1
	if id, ok := ic.host.EntityID(attacker); ok {
		from = id
	}
	ic.events.Dispatch(events.Damage, events.NewDamage(target, from, i32(dmg), i32(dflags), i32(mod)))
	return ret
}
