// Package plugin loads Lua scripts that handle server events.
//
// Plugins live in one directory and are either single files or
// directories:
//
//	plugins/motd.lua
//	plugins/ranked/
//	├── plugin.toml      # optional manifest
//	└── init.lua         # entry point
//
// The manifest is TOML:
//
//	name = "ranked"
//	version = "1.2.0"
//	description = "Elo tracking"
//	main = "init.lua"
//
// Each plugin runs in its own sandboxed state (see package lua) and is the
// owner of the handlers it adds, so unloading a plugin removes exactly its
// handlers. With Watch enabled, a change to a plugin's files queues a
// reload, which RunPending applies on the server thread.
package plugin
