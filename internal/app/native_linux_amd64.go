//go:build linux && amd64

package app

import (
	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/memory"
)

// nativeDefaults fills unset options with the running process.
func nativeDefaults(opts *Options) error {
	local := memory.NewLocal()
	if opts.Region == nil {
		opts.Region = local
	}
	if opts.Caller == nil {
		opts.Caller = detour.Native{}
	}
	if opts.Maps == nil {
		opts.Maps = local.Maps
	}
	return nil
}
