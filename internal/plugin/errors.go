package plugin

import "errors"

var (
	// ErrPluginNotFound means no file or directory in the plugin
	// directory has the name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint means a directory plugin lacks init.lua.
	ErrNoEntryPoint = errors.New("plugin directory has no init.lua")

	ErrAlreadyLoaded = errors.New("plugin already loaded")
	ErrNotLoaded     = errors.New("plugin not loaded")

	// ErrInvalidPlugin wraps manifest and name validation failures.
	ErrInvalidPlugin = errors.New("invalid plugin")

	ErrManagerClosed = errors.New("plugin manager closed")
)
