package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/dshills/gamehook/internal/logging"
	plua "github.com/dshills/gamehook/internal/plugin/lua"
)

// State is where a plugin is in its load cycle.
type State int

const (
	StateUnloaded State = iota
	// StateLoaded means the script ran and its handlers are registered.
	StateLoaded
	// StateError means the last load failed; the plugin holds no handlers.
	StateError
)

var stateNames = [...]string{"unloaded", "loaded", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Plugin is one loaded script. The plugin name is the owner of every
// handler the script registers.
type Plugin struct {
	manifest *Manifest
	log      *logging.Logger

	mu       sync.RWMutex
	state    State
	err      error
	lua      *plua.State
	api      *plua.API
	loadedAt time.Time
}

func newPlugin(m *Manifest, log *logging.Logger) *Plugin {
	return &Plugin{
		manifest: m,
		log:      log.WithField("plugin", m.Name),
		state:    StateUnloaded,
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.manifest.Name }

// Manifest returns the plugin manifest.
func (p *Plugin) Manifest() *Manifest { return p.manifest }

// State returns the lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Error returns the load error of a plugin in the error state.
func (p *Plugin) Error() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// LoadedAt returns when the script last ran.
func (p *Plugin) LoadedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedAt
}

// Handlers returns the number of handlers the plugin has registered.
func (p *Plugin) Handlers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.api == nil {
		return 0
	}
	return p.api.Len()
}

// load creates the script state and runs the main file. On failure every
// handler the script registered before failing is removed.
func (p *Plugin) load(ev plua.Events, h plua.Host, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateLoaded {
		return fmt.Errorf("plugin %q: %w", p.Name(), ErrAlreadyLoaded)
	}

	L, err := plua.NewState(plua.WithTimeout(timeout), plua.WithLogger(p.log))
	if err != nil {
		return p.fail(err)
	}
	api := plua.NewAPI(L, p.Name(), ev, h, p.log)
	api.Install()

	if err := L.DoFile(p.manifest.MainPath()); err != nil {
		api.Close()
		_ = L.Close()
		return p.fail(err)
	}

	p.lua, p.api = L, api
	p.state, p.err = StateLoaded, nil
	p.loadedAt = time.Now()
	p.log.Info("loaded %s (%d handlers)", p.manifest, api.Len())
	return nil
}

func (p *Plugin) fail(err error) error {
	p.state, p.err = StateError, err
	return fmt.Errorf("load plugin %q: %w", p.Name(), err)
}

// unload removes the plugin's handlers and closes its state.
func (p *Plugin) unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateLoaded {
		p.state = StateUnloaded
		return nil
	}

	n := p.api.Close()
	err := p.lua.Close()
	p.lua, p.api = nil, nil
	p.state = StateUnloaded
	p.log.Info("unloaded (%d handlers removed)", n)
	if err != nil {
		return fmt.Errorf("close plugin %q: %w", p.Name(), err)
	}
	return nil
}
