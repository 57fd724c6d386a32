package plugin

import (
	"github.com/dshills/gamehook/internal/host"
	plua "github.com/dshills/gamehook/internal/plugin/lua"
)

// HostAPI exposes a host facade to scripts.
type HostAPI struct {
	h *host.Host
}

var _ plua.Host = HostAPI{}

// NewHostAPI wraps h.
func NewHostAPI(h *host.Host) HostAPI {
	return HostAPI{h: h}
}

func (a HostAPI) Player(id int) (map[string]any, error) { return a.h.PlayerInfo(id) }
func (a HostAPI) Cvar(name string) (string, error)      { return a.h.CvarString(name) }
func (a HostAPI) SetCvar(name, value string) error      { return a.h.SetCvar(name, value) }
func (a HostAPI) Command(text string) error             { return a.h.Command(text) }
func (a HostAPI) Send(id int, text string) error        { return a.h.Send(id, text) }
