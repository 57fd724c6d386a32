package host

import "github.com/dshills/gamehook/internal/view"

// PlayerInfo returns a snapshot of client id for scripts and remote tools.
// Fields the game module has not populated yet are left out.
func (h *Host) PlayerInfo(id int) (map[string]any, error) {
	c, err := h.Client(id)
	if err != nil {
		return nil, err
	}
	state, err := c.State()
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"id":    id,
		"state": state.String(),
	}
	if state == view.ClientFree {
		return info, nil
	}

	if name, err := c.Name(); err == nil {
		info["name"] = name
	}
	if ping, err := c.Ping(); err == nil {
		info["ping"] = int(ping)
	}
	if steamID, err := c.SteamID(); err == nil {
		info["steam_id"] = steamID
	}

	ent, err := h.Player(id)
	if err != nil {
		return info, nil
	}
	if health, err := ent.Health(); err == nil {
		info["health"] = int(health)
	}
	gc, err := ent.GameClient()
	if err != nil {
		return info, nil
	}
	for key, read := range map[string]func() (int32, error){
		"armor":  gc.Armor,
		"team":   gc.Team,
		"score":  gc.Score,
		"kills":  gc.Kills,
		"deaths": gc.Deaths,
	} {
		if v, err := read(); err == nil {
			info[key] = int(v)
		}
	}
	return info, nil
}

// CvarString returns the string value of the console variable called name.
func (h *Host) CvarString(name string) (string, error) {
	cv, err := h.Cvar(name)
	if err != nil {
		return "", err
	}
	return cv.Text()
}
