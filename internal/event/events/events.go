// Package events names the host events and builds their payloads.
//
// Every event has a fixed list of positional arguments. Replaceable events
// also carry a mutable value that handlers may rewrite; the detour that
// raised the event uses the final value in place of the original argument.
package events

import (
	"fmt"

	"github.com/dshills/gamehook/internal/event"
)

// Event names.
const (
	// ClientCommand is raised for every command a client sends. The value is
	// the command text.
	ClientCommand = "client_command"

	// ServerCommand is raised for every command the server sends to a
	// client, or to all clients when client_id is -1. The value is the text.
	ServerCommand = "server_command"

	// ConsolePrint is raised for console output. The value is the text.
	ConsolePrint = "console_print"

	// SetConfigstring is raised when a config string changes. The value is
	// the new string.
	SetConfigstring = "set_configstring"

	// PlayerConnect is raised when a client connects. Replacing the value
	// with a string rejects the connection with that reason.
	PlayerConnect = "player_connect"

	// PlayerLoaded is raised when a client finishes loading the map.
	PlayerLoaded = "player_loaded"

	// PlayerDisconnect is raised when a client is dropped.
	PlayerDisconnect = "player_disconnect"

	// PlayerSpawn is raised when a player's entity spawns.
	PlayerSpawn = "player_spawn"

	// Frame is raised once per server frame.
	Frame = "frame"

	// NewGame is raised when the game module initializes a level.
	NewGame = "new_game"

	// Damage is raised when an entity takes damage.
	Damage = "damage"

	// ModuleLoaded is raised after a late game module is mapped and hooked.
	ModuleLoaded = "module_loaded"
)

// Definition describes one event.
type Definition struct {
	Name string
	// Args names the positional arguments.
	Args []string
	// Replaceable marks events whose value handlers may rewrite.
	Replaceable bool
}

// Catalog lists every host event.
var Catalog = []Definition{
	{Name: ClientCommand, Args: []string{"client_id"}, Replaceable: true},
	{Name: ServerCommand, Args: []string{"client_id"}, Replaceable: true},
	{Name: ConsolePrint, Replaceable: true},
	{Name: SetConfigstring, Args: []string{"index"}, Replaceable: true},
	{Name: PlayerConnect, Args: []string{"client_id", "first_time", "is_bot"}, Replaceable: true},
	{Name: PlayerLoaded, Args: []string{"client_id"}},
	{Name: PlayerDisconnect, Args: []string{"client_id", "reason"}},
	{Name: PlayerSpawn, Args: []string{"client_id"}},
	{Name: Frame, Args: []string{"frame"}},
	{Name: NewGame, Args: []string{"restart"}},
	{Name: Damage, Args: []string{"target_id", "attacker_id", "damage", "dflags", "means_of_death"}},
	{Name: ModuleLoaded, Args: []string{"name", "base"}},
}

// Lookup returns the definition of name.
func Lookup(name string) (Definition, bool) {
	for _, s := range Catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Definition{}, false
}

// Define creates a dispatcher for every catalog event.
func Define(r *event.Registry) error {
	for _, s := range Catalog {
		var opts []event.Option
		if s.Replaceable {
			opts = append(opts, event.WithReplace(event.AcceptString))
		}
		if _, err := r.Define(s.Name, opts...); err != nil {
			return fmt.Errorf("define events: %w", err)
		}
	}
	return nil
}

// Fields returns the payload as a map keyed by argument name, plus "value"
// for replaceable events that carry one.
func Fields(name string, p *event.Payload) map[string]any {
	out := make(map[string]any)
	if p == nil {
		return out
	}
	spec, _ := Lookup(name)
	for i, v := range p.Args {
		key := fmt.Sprintf("arg%d", i)
		if i < len(spec.Args) {
			key = spec.Args[i]
		}
		out[key] = v
	}
	if p.Value != nil {
		out["value"] = p.Value
	}
	return out
}

// NewClientCommand builds a client_command payload.
func NewClientCommand(clientID int, cmd string) *event.Payload {
	return &event.Payload{Args: []any{clientID}, Value: cmd}
}

// NewServerCommand builds a server_command payload; clientID is -1 for a
// broadcast.
func NewServerCommand(clientID int, cmd string) *event.Payload {
	return &event.Payload{Args: []any{clientID}, Value: cmd}
}

// NewConsolePrint builds a console_print payload.
func NewConsolePrint(text string) *event.Payload {
	return &event.Payload{Value: text}
}

// NewSetConfigstring builds a set_configstring payload.
func NewSetConfigstring(index int, value string) *event.Payload {
	return &event.Payload{Args: []any{index}, Value: value}
}

// NewPlayerConnect builds a player_connect payload. The value starts empty.
func NewPlayerConnect(clientID int, firstTime, isBot bool) *event.Payload {
	return &event.Payload{Args: []any{clientID, firstTime, isBot}}
}

// NewPlayerLoaded builds a player_loaded payload.
func NewPlayerLoaded(clientID int) *event.Payload {
	return &event.Payload{Args: []any{clientID}}
}

// NewPlayerDisconnect builds a player_disconnect payload.
func NewPlayerDisconnect(clientID int, reason string) *event.Payload {
	return &event.Payload{Args: []any{clientID, reason}}
}

// NewPlayerSpawn builds a player_spawn payload.
func NewPlayerSpawn(clientID int) *event.Payload {
	return &event.Payload{Args: []any{clientID}}
}

// NewFrame builds a frame payload.
func NewFrame(frame int64) *event.Payload {
	return &event.Payload{Args: []any{frame}}
}

// NewNewGame builds a new_game payload.
func NewNewGame(restart bool) *event.Payload {
	return &event.Payload{Args: []any{restart}}
}

// NewDamage builds a damage payload. Ids are entity numbers, -1 for none.
func NewDamage(target, attacker, damage, dflags, mod int) *event.Payload {
	return &event.Payload{Args: []any{target, attacker, damage, dflags, mod}}
}

// NewModuleLoaded builds a module_loaded payload.
func NewModuleLoaded(name string, base uintptr) *event.Payload {
	return &event.Payload{Args: []any{name, base}}
}
