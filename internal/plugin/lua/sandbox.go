package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/gamehook/internal/logging"
)

// safeModules are the modules require may return.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L   *lua.LState
	log *logging.Logger
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, log *logging.Logger) *Sandbox {
	return &Sandbox{L: L, log: logging.OrNull(log)}
}

// Install removes the loaders that read code from disk or strings, routes
// print to the plugin log and limits require to the safe modules.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installRequire()
}

func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.log.Info("%s", strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire defines a require that only returns safe modules. The
// package library is never opened, so nothing can be loaded from disk.
func (s *Sandbox) installRequire() {
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}
