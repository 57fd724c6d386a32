// Package config loads gamehook's settings.
//
// Settings come from three places, later ones overriding earlier:
//
//  1. Built-in defaults (Default)
//  2. gamehook.toml, or the file named by GAMEHOOK_CONFIG
//  3. GAMEHOOK_* environment variables
//
// The file is decoded strictly: unknown keys are an error.
//
//	[core]
//	module = "qzeroded.x64"
//	log_level = "debug"
//
//	[scan]
//	required = ["Cmd_ExecuteString", "G_RunFrame"]
//
//	[scan.signatures]
//	G_Damage = "41 57 41 56 ?? ?? 41 54"
//
//	[[scan.patches]]
//	name = "vote-clientkill"
//	function = "G_RunFrame"
//	offset = 0x4c
//	bytes = "EB ??"
//
//	[plugins]
//	dir = "baseq3/plugins"
//	load = ["motd", "ranked"]
//	watch = true
//	call_timeout = "100ms"
//
//	[stats]
//	enabled = true
//	listen = "127.0.0.1:27961"
//	password_hash = "$2a$10$..."
//
//	[layout.client]
//	ping = 0x20e78
//
// Environment variables follow the section and key:
// GAMEHOOK_PLUGINS_WATCH=true, GAMEHOOK_SCAN_REQUIRED=G_RunFrame,G_InitGame.
//
// # Error Handling
//
//   - *ParseError: the file is not valid TOML or has an unknown key
//   - *ValidationError: a value is out of range; matches ErrValidationFailed
//   - ErrFileNotFound: an explicitly named file doesn't exist
package config
