// Package view provides typed accessors over host structures.
//
// A view wraps a non-null address inside a memory.Region and reads each
// field at call time; nothing is cached, so every accessor reflects the
// host's current state. Views are values scoped to the intercepted call
// that produced them and must not be kept once that call returns, because
// the host owns and reuses the underlying records.
package view

import (
	"github.com/dshills/gamehook/internal/memory"
)

// ClientState is the engine's connection state for a client slot.
type ClientState int32

const (
	ClientFree ClientState = iota
	ClientZombie
	ClientConnected
	ClientPrimed
	ClientActive
)

func (s ClientState) String() string {
	switch s {
	case ClientFree:
		return "free"
	case ClientZombie:
		return "zombie"
	case ClientConnected:
		return "connected"
	case ClientPrimed:
		return "primed"
	case ClientActive:
		return "active"
	default:
		return "unknown"
	}
}

// Client is a view over an engine client record.
type Client struct {
	r    memory.Region
	addr uintptr
	l    *ClientLayout
}

// NewClient returns a view over the client record at addr.
func NewClient(r memory.Region, addr uintptr, l *ClientLayout) (Client, error) {
	if addr == 0 {
		return Client{}, &NullError{Kind: "client"}
	}
	return Client{r: r, addr: addr, l: l}, nil
}

// Addr returns the record address.
func (c Client) Addr() uintptr { return c.addr }

// State returns the connection state.
func (c Client) State() (ClientState, error) {
	v, err := memory.ReadInt32(c.r, c.field(c.l.State))
	return ClientState(v), err
}

// Name returns the player name.
func (c Client) Name() (string, error) {
	return memory.ReadCString(c.r, c.field(c.l.Name), c.l.NameSize)
}

// Userinfo returns the raw userinfo string.
func (c Client) Userinfo() (string, error) {
	return memory.ReadCString(c.r, c.field(c.l.Userinfo), c.l.UserinfoSize)
}

// Ping returns the last measured ping in milliseconds.
func (c Client) Ping() (int32, error) {
	return memory.ReadInt32(c.r, c.field(c.l.Ping))
}

// SteamID returns the platform account id.
func (c Client) SteamID() (uint64, error) {
	return memory.ReadUint64(c.r, c.field(c.l.SteamID))
}

// EntityAddr returns the address of the client's game entity, zero when the
// client has none.
func (c Client) EntityAddr() (uintptr, error) {
	return memory.ReadPointer(c.r, c.field(c.l.Entity))
}

func (c Client) field(off int) uintptr { return c.addr + uintptr(off) }

// Entity is a view over a game entity record.
type Entity struct {
	r    memory.Region
	addr uintptr
	l    *Layout
}

// NewEntity returns a view over the entity record at addr.
func NewEntity(r memory.Region, addr uintptr, l *Layout) (Entity, error) {
	if addr == 0 {
		return Entity{}, &NullError{Kind: "entity"}
	}
	return Entity{r: r, addr: addr, l: l}, nil
}

// Addr returns the record address.
func (e Entity) Addr() uintptr { return e.addr }

// Number returns the entity's slot number as recorded by the host.
func (e Entity) Number() (int32, error) {
	return memory.ReadInt32(e.r, e.field(e.l.Entity.Number))
}

// Type returns the entity type.
func (e Entity) Type() (int32, error) {
	return memory.ReadInt32(e.r, e.field(e.l.Entity.Type))
}

// InUse reports whether the slot holds a live entity.
func (e Entity) InUse() (bool, error) {
	v, err := memory.ReadInt32(e.r, e.field(e.l.Entity.InUse))
	return v != 0, err
}

// Classname returns the entity class, empty when unset.
func (e Entity) Classname() (string, error) {
	p, err := memory.ReadPointer(e.r, e.field(e.l.Entity.Classname))
	if err != nil || p == 0 {
		return "", err
	}
	return memory.ReadCString(e.r, p, 64)
}

// Health returns the entity's health.
func (e Entity) Health() (int32, error) {
	return memory.ReadInt32(e.r, e.field(e.l.Entity.Health))
}

// SetHealth writes the entity's health.
func (e Entity) SetHealth(v int32) error {
	return memory.WriteInt32(e.r, e.field(e.l.Entity.Health), v)
}

// GameClient returns the player state attached to the entity. Entities that
// are not players fail with a null pointer error.
func (e Entity) GameClient() (GameClient, error) {
	p, err := memory.ReadPointer(e.r, e.field(e.l.Entity.GameClient))
	if err != nil {
		return GameClient{}, err
	}
	return NewGameClient(e.r, p, &e.l.GameClient)
}

func (e Entity) field(off int) uintptr { return e.addr + uintptr(off) }

// GameClient is a view over the game module's per-player record.
type GameClient struct {
	r    memory.Region
	addr uintptr
	l    *GameClientLayout
}

// NewGameClient returns a view over the player record at addr.
func NewGameClient(r memory.Region, addr uintptr, l *GameClientLayout) (GameClient, error) {
	if addr == 0 {
		return GameClient{}, &NullError{Kind: "game client"}
	}
	return GameClient{r: r, addr: addr, l: l}, nil
}

// Addr returns the record address.
func (g GameClient) Addr() uintptr { return g.addr }

func (g GameClient) Health() (int32, error) { return g.readInt(g.l.Health) }
func (g GameClient) Armor() (int32, error)  { return g.readInt(g.l.Armor) }
func (g GameClient) Team() (int32, error)   { return g.readInt(g.l.Team) }
func (g GameClient) Score() (int32, error)  { return g.readInt(g.l.Score) }
func (g GameClient) Kills() (int32, error)  { return g.readInt(g.l.Kills) }
func (g GameClient) Deaths() (int32, error) { return g.readInt(g.l.Deaths) }

// SetHealth writes the player's displayed health.
func (g GameClient) SetHealth(v int32) error {
	return memory.WriteInt32(g.r, g.addr+uintptr(g.l.Health), v)
}

// SetArmor writes the player's armor.
func (g GameClient) SetArmor(v int32) error {
	return memory.WriteInt32(g.r, g.addr+uintptr(g.l.Armor), v)
}

func (g GameClient) readInt(off int) (int32, error) {
	return memory.ReadInt32(g.r, g.addr+uintptr(off))
}

// Server is a view over the engine's server state record.
type Server struct {
	r    memory.Region
	addr uintptr
	l    *ServerLayout
}

// NewServer returns a view over the server record at addr.
func NewServer(r memory.Region, addr uintptr, l *ServerLayout) (Server, error) {
	if addr == 0 {
		return Server{}, &NullError{Kind: "server"}
	}
	return Server{r: r, addr: addr, l: l}, nil
}

// State returns the server state (0 dead, 1 loading, 2 running).
func (s Server) State() (int32, error) {
	return memory.ReadInt32(s.r, s.addr+uintptr(s.l.State))
}

// Time returns the server time in milliseconds.
func (s Server) Time() (int32, error) {
	return memory.ReadInt32(s.r, s.addr+uintptr(s.l.Time))
}

// MapName returns the running map.
func (s Server) MapName() (string, error) {
	return memory.ReadCString(s.r, s.addr+uintptr(s.l.MapName), 64)
}
