package view

import "fmt"

// Layout holds the byte offsets of every host structure field a view reads.
// Defaults match the 64-bit dedicated server build; any field may be
// overridden from configuration when a different build shifts a record.
type Layout struct {
	Client     ClientLayout     `toml:"client"`
	Entity     EntityLayout     `toml:"entity"`
	GameClient GameClientLayout `toml:"game_client"`
	Cvar       CvarLayout       `toml:"cvar"`
	Server     ServerLayout     `toml:"server"`
}

// ClientLayout describes the engine's per-connection client record.
type ClientLayout struct {
	Size         int `toml:"size"`
	State        int `toml:"state"`
	Userinfo     int `toml:"userinfo"`
	UserinfoSize int `toml:"userinfo_size"`
	Name         int `toml:"name"`
	NameSize     int `toml:"name_size"`
	Ping         int `toml:"ping"`
	SteamID      int `toml:"steam_id"`
	Entity       int `toml:"entity"`
}

// EntityLayout describes the game module's entity record.
type EntityLayout struct {
	Size       int `toml:"size"`
	Number     int `toml:"number"`
	Type       int `toml:"type"`
	GameClient int `toml:"game_client"`
	InUse      int `toml:"in_use"`
	Classname  int `toml:"classname"`
	Health     int `toml:"health"`
}

// GameClientLayout describes the game module's per-player state record.
type GameClientLayout struct {
	Size   int `toml:"size"`
	Health int `toml:"health"`
	Armor  int `toml:"armor"`
	Team   int `toml:"team"`
	Score  int `toml:"score"`
	Kills  int `toml:"kills"`
	Deaths int `toml:"deaths"`
}

// CvarLayout describes the engine's console variable record.
type CvarLayout struct {
	Name              int `toml:"name"`
	String            int `toml:"string"`
	ResetString       int `toml:"reset_string"`
	LatchedString     int `toml:"latched_string"`
	Flags             int `toml:"flags"`
	Modified          int `toml:"modified"`
	ModificationCount int `toml:"modification_count"`
	Value             int `toml:"value"`
	Integer           int `toml:"integer"`
}

// ServerLayout describes the engine's server state record.
type ServerLayout struct {
	State   int `toml:"state"`
	Time    int `toml:"time"`
	MapName int `toml:"map_name"`
}

// DefaultLayout returns the layout of the supported server build.
func DefaultLayout() Layout {
	return Layout{
		Client: ClientLayout{
			Size:         0x4A0C0,
			State:        0x0,
			Userinfo:     0x4,
			UserinfoSize: 1024,
			Name:         0x1294C,
			NameSize:     36,
			Ping:         0x13008,
			SteamID:      0x4A0B8,
			Entity:       0x12938,
		},
		Entity: EntityLayout{
			Size:       0x358,
			Number:     0x0,
			Type:       0x4,
			GameClient: 0x158,
			InUse:      0x160,
			Classname:  0x168,
			Health:     0x2B8,
		},
		GameClient: GameClientLayout{
			Size:   0x5608,
			Health: 0x184,
			Armor:  0x188,
			Team:   0x2A8,
			Score:  0x2AC,
			Kills:  0x2BC,
			Deaths: 0x2C0,
		},
		Cvar: CvarLayout{
			Name:              0,
			String:            8,
			ResetString:       16,
			LatchedString:     24,
			Flags:             32,
			Modified:          36,
			ModificationCount: 40,
			Value:             44,
			Integer:           48,
		},
		Server: ServerLayout{
			State:   0x0,
			Time:    0x10,
			MapName: 0x2068,
		},
	}
}

// Validate rejects layouts with negative offsets or empty record sizes.
func (l Layout) Validate() error {
	checks := []struct {
		name string
		v    int
		min  int
	}{
		{"client.size", l.Client.Size, 1},
		{"client.userinfo_size", l.Client.UserinfoSize, 1},
		{"client.name_size", l.Client.NameSize, 1},
		{"entity.size", l.Entity.Size, 1},
		{"game_client.size", l.GameClient.Size, 1},
		{"client.state", l.Client.State, 0},
		{"client.userinfo", l.Client.Userinfo, 0},
		{"client.name", l.Client.Name, 0},
		{"client.ping", l.Client.Ping, 0},
		{"client.steam_id", l.Client.SteamID, 0},
		{"client.entity", l.Client.Entity, 0},
		{"entity.game_client", l.Entity.GameClient, 0},
		{"entity.in_use", l.Entity.InUse, 0},
		{"entity.classname", l.Entity.Classname, 0},
		{"entity.health", l.Entity.Health, 0},
		{"game_client.health", l.GameClient.Health, 0},
		{"cvar.string", l.Cvar.String, 0},
		{"cvar.value", l.Cvar.Value, 0},
		{"cvar.integer", l.Cvar.Integer, 0},
		{"server.time", l.Server.Time, 0},
	}
	for _, c := range checks {
		if c.v < c.min {
			return fmt.Errorf("layout %s = %d, must be >= %d", c.name, c.v, c.min)
		}
	}
	if l.Client.Name+l.Client.NameSize > l.Client.Size {
		return fmt.Errorf("layout client.name overruns client.size")
	}
	return nil
}
