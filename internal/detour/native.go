//go:build linux && amd64

package detour

import "github.com/ebitengine/purego"

// Native is the Caller for the live process.
type Native struct{}

// Call implements Caller.
func (Native) Call(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}

// Callback implements Caller.
func (Native) Callback(fn any) uintptr {
	return purego.NewCallback(fn)
}
