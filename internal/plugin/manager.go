package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/gamehook/internal/logging"
	plua "github.com/dshills/gamehook/internal/plugin/lua"
)

// Manager manages the lifecycle of all plugins.
//
// Load, Unload, Reload and RunPending run scripts and must be called on
// the host thread. Queue is safe from any goroutine; queued reloads are
// applied by the next RunPending.
type Manager struct {
	mu sync.RWMutex

	loader *Loader
	events plua.Events
	host   plua.Host
	config Config
	log    *logging.Logger

	// Loaded and failed plugins by name
	plugins map[string]*Plugin

	// Plugin load order (for deterministic iteration)
	loadOrder []string

	// Event handlers (protected by mu)
	eventHandlers []EventHandler

	pendingMu sync.Mutex
	pending   map[string]struct{}

	watcher *Watcher
	closed  bool
}

// Config configures the plugin manager.
type Config struct {
	// Dir is the plugin directory.
	Dir string

	// Timeout bounds every call into a script. Zero uses the default.
	Timeout time.Duration

	// Debounce is the quiet period after a file change before a reload
	// is queued.
	Debounce time.Duration

	Log *logging.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:      "plugins",
		Timeout:  plua.DefaultTimeout,
		Debounce: 200 * time.Millisecond,
	}
}

// EventHandler handles plugin manager events.
// Handlers must be non-blocking and should not call back into the Manager
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginLoaded is emitted when a plugin is loaded.
	EventPluginLoaded ManagerEventType = iota
	// EventPluginUnloaded is emitted when a plugin is unloaded.
	EventPluginUnloaded
	// EventPluginReloaded is emitted when a plugin is reloaded.
	EventPluginReloaded
	// EventPluginError is emitted when a plugin fails to load.
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginReloaded:
		return "reloaded"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates a plugin manager whose scripts register with events
// and reach the server through h.
func NewManager(config Config, events plua.Events, h plua.Host) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = plua.DefaultTimeout
	}
	return &Manager{
		loader:  NewLoader(config.Dir),
		events:  events,
		host:    h,
		config:  config,
		log:     logging.OrNull(config.Log).WithComponent("plugin"),
		plugins: make(map[string]*Plugin),
		pending: make(map[string]struct{}),
	}
}

// Discover lists the plugins in the plugin directory.
func (m *Manager) Discover() ([]*Info, error) {
	return m.loader.Discover()
}

// Load loads a plugin by name. A plugin that failed to load earlier is
// retried; a loaded one returns ErrAlreadyLoaded.
func (m *Manager) Load(name string) (*Plugin, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if p, exists := m.plugins[name]; exists && p.State() == StateLoaded {
		m.mu.Unlock()
		return nil, fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}
	m.mu.Unlock()

	manifest, err := m.loader.Find(name)
	if err != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: name, Error: err})
		return nil, err
	}

	p := newPlugin(manifest, m.log)
	loadErr := p.load(m.events, m.host, m.config.Timeout)

	m.mu.Lock()
	if _, exists := m.plugins[name]; !exists {
		m.loadOrder = append(m.loadOrder, name)
	}
	m.plugins[name] = p
	m.mu.Unlock()

	if loadErr != nil {
		m.log.Error("%v", loadErr)
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: name, Error: loadErr})
		return p, loadErr
	}
	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: name})
	return p, nil
}

// LoadAll loads the named plugins in order, or every discovered plugin
// when names is empty. It loads as many as it can and joins the errors.
func (m *Manager) LoadAll(names []string) error {
	if len(names) == 0 {
		infos, err := m.loader.Discover()
		if err != nil {
			return err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}

	var loadErrors []error
	for _, name := range names {
		if _, err := m.Load(name); err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Unload unloads a plugin by name and removes all of its handlers.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	p, exists := m.plugins[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	delete(m.plugins, name)
	m.removeFromLoadOrder(name)
	m.mu.Unlock()

	if err := p.unload(); err != nil {
		return err
	}
	m.emitEvent(ManagerEvent{Type: EventPluginUnloaded, Plugin: name})
	return nil
}

// UnloadAll unloads all plugins in reverse load order.
func (m *Manager) UnloadAll() error {
	m.mu.RLock()
	names := make([]string, len(m.loadOrder))
	for i, name := range m.loadOrder {
		names[len(m.loadOrder)-1-i] = name
	}
	m.mu.RUnlock()

	var unloadErrors []error
	for _, name := range names {
		if err := m.Unload(name); err != nil {
			unloadErrors = append(unloadErrors, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(unloadErrors) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(unloadErrors), errors.Join(unloadErrors...))
	}
	return nil
}

// Reload unloads a plugin and loads it again from disk. Its handlers are
// registered afresh; the plugin keeps its place in the load order.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	p, exists := m.plugins[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	m.mu.Unlock()

	if err := p.unload(); err != nil {
		return fmt.Errorf("reload unload failed: %w", err)
	}
	if _, err := m.Load(name); err != nil {
		if errors.Is(err, ErrPluginNotFound) {
			m.mu.Lock()
			delete(m.plugins, name)
			m.removeFromLoadOrder(name)
			m.mu.Unlock()
		}
		return fmt.Errorf("reload load failed: %w", err)
	}

	m.emitEvent(ManagerEvent{Type: EventPluginReloaded, Plugin: name})
	return nil
}

// Queue marks name for reload at the next RunPending. It never blocks.
func (m *Manager) Queue(name string) {
	m.pendingMu.Lock()
	m.pending[name] = struct{}{}
	m.pendingMu.Unlock()
}

// RunPending reloads the queued plugins that are known to the manager and
// returns how many reloaded successfully.
func (m *Manager) RunPending() int {
	m.pendingMu.Lock()
	if len(m.pending) == 0 {
		m.pendingMu.Unlock()
		return 0
	}
	names := make([]string, 0, len(m.pending))
	for name := range m.pending {
		names = append(names, name)
	}
	m.pending = make(map[string]struct{})
	m.pendingMu.Unlock()
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if _, ok := m.Get(name); !ok {
			continue
		}
		if err := m.Reload(name); err != nil {
			m.log.Warn("reload %s: %v", name, err)
			continue
		}
		n++
	}
	return n
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.plugins[name]
	return p, exists
}

// List returns all known plugins in load order.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Plugin, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		if p, exists := m.plugins[name]; exists {
			result = append(result, p)
		}
	}
	return result
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.plugins {
		if p.State() == StateLoaded {
			count++
		}
	}
	return count
}

// Errors returns the plugins that failed to load with their errors.
func (m *Manager) Errors() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[string]error)
	for name, p := range m.plugins {
		if p.State() == StateError && p.Error() != nil {
			errs[name] = p.Error()
		}
	}
	return errs
}

// Watch starts reloading plugins whose files change.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.watcher != nil {
		return nil
	}
	w, err := NewWatcher(m.loader, m.config.Debounce, m.Queue, m.log)
	if err != nil {
		return err
	}
	m.watcher = w
	return nil
}

// Close stops watching and unloads every plugin.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	errs = append(errs, m.UnloadAll())
	return errors.Join(errs...)
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers.
// Handlers are called outside any locks and panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				_ = recover()
			}()
			handler(event)
		}()
	}
}

// removeFromLoadOrder removes a name from the load order slice.
// Must be called with mu held.
func (m *Manager) removeFromLoadOrder(name string) {
	for i, n := range m.loadOrder {
		if n == name {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}
