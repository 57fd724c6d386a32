package event

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/gamehook/internal/logging"
)

// Observer is notified after every dispatch and every handler fault. Calls
// happen on the dispatching thread and must return quickly.
type Observer interface {
	Dispatched(event string, p *Payload, r Result, elapsed time.Duration)
	HandlerFault(f *FaultError)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) Dispatched(event string, p *Payload, r Result, elapsed time.Duration) {
	for _, ob := range o {
		ob.Dispatched(event, p, r, elapsed)
	}
}

func (o Observers) HandlerFault(f *FaultError) {
	for _, ob := range o {
		ob.HandlerFault(f)
	}
}

// Registry owns every dispatcher of the process. It is created once at
// startup, passed to every component that dispatches or registers, and
// retired once at shutdown after hooks have been removed.
type Registry struct {
	mu          sync.RWMutex
	levels      int
	log         *logging.Logger
	observers   Observers
	dispatchers map[string]*Dispatcher
	retired     bool
}

// NewRegistry creates a registry whose dispatchers have the given number of
// priority levels.
func NewRegistry(levels int, log *logging.Logger) *Registry {
	if levels <= 0 {
		levels = DefaultLevels
	}
	return &Registry{
		levels:      levels,
		log:         logging.OrNull(log).WithComponent("event"),
		dispatchers: make(map[string]*Dispatcher),
	}
}

// Observe adds an observer. Observers must be added before dispatchers are
// defined.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Define creates and activates the dispatcher for name. Defining a name
// twice is an error.
func (r *Registry) Define(name string, opts ...Option) (*Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retired {
		return nil, fmt.Errorf("define %s: %w", name, ErrRetired)
	}
	if _, exists := r.dispatchers[name]; exists {
		return nil, fmt.Errorf("event %s already defined", name)
	}

	base := []Option{WithLevels(r.levels), WithLogger(r.log)}
	if len(r.observers) > 0 {
		base = append(base, WithObserver(append(Observers(nil), r.observers...)))
	}
	d := NewDispatcher(name, append(base, opts...)...)
	d.Activate()
	r.dispatchers[name] = d
	return d, nil
}

// Get returns the dispatcher for name.
func (r *Registry) Get(name string) (*Dispatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[name]
	return d, ok
}

// Names returns the defined event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dispatchers))
	for name := range r.dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Levels returns the priority level count of defined dispatchers.
func (r *Registry) Levels() int { return r.levels }

// Register adds fn to the named event.
func (r *Registry) Register(name, owner string, level int, fn Handler) (Registration, error) {
	d, ok := r.Get(name)
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	id, err := d.Register(owner, level, fn)
	if err != nil {
		return Registration{}, err
	}
	return Registration{ID: id, Owner: owner, Level: level}, nil
}

// Unregister removes owner's handler id from the named event.
func (r *Registry) Unregister(name, owner string, id uuid.UUID) bool {
	d, ok := r.Get(name)
	if !ok {
		return false
	}
	return d.Unregister(owner, id)
}

// Dispatch runs the named event. Unknown events allow the default action.
func (r *Registry) Dispatch(name string, p *Payload) Result {
	d, ok := r.Get(name)
	if !ok {
		return Result{Decision: Allow}
	}
	return d.Dispatch(p)
}

// UnregisterOwner removes owner's handlers from every event.
func (r *Registry) UnregisterOwner(owner string) int {
	r.mu.RLock()
	ds := make([]*Dispatcher, 0, len(r.dispatchers))
	for _, d := range r.dispatchers {
		ds = append(ds, d)
	}
	r.mu.RUnlock()

	n := 0
	for _, d := range ds {
		n += d.UnregisterOwner(owner)
	}
	if n > 0 {
		r.log.Debug("removed %d handlers owned by %s", n, owner)
	}
	return n
}

// Retire retires every dispatcher. Later dispatches are no-ops.
func (r *Registry) Retire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return
	}
	r.retired = true
	for _, d := range r.dispatchers {
		d.Retire()
	}
	r.log.Info("retired %d dispatchers", len(r.dispatchers))
}
