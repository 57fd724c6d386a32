// Package lua runs plugin scripts on gopher-lua.
//
// Each plugin gets its own State with a reduced standard library: io, os,
// debug and package loading are unavailable and require only returns the
// built-in string, table and math modules. Calls into a script are bounded
// by a timeout.
//
// Install exposes the host to a script:
//
//	hook.add(event, fn[, priority]) -> id
//	hook.remove(event, id) -> bool
//	game.player(id) -> table | nil, err
//	game.cvar(name) -> string | nil, err
//	game.set_cvar(name, value) -> true | nil, err
//	game.command(text) -> true | nil, err
//	game.send(id, text) -> true | nil, err
//	log.info(msg), log.warn(msg)
//
// A handler receives the event's arguments followed by its value when the
// event is replaceable. It returns nothing or RET_NONE to continue,
// RET_STOP, RET_STOP_EVENT or RET_STOP_ALL to end the chain, or a string to
// replace the value. PRI_HIGHEST through PRI_LOWEST select the priority.
package lua
