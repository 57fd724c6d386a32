// Package event implements named, priority-chained broadcast points.
//
// A Dispatcher holds handlers in a fixed number of priority levels; level 0
// runs first. Within a level, handlers are grouped by owner in the order
// owners first registered, and each owner's handlers run in registration
// order. Every handler returns an Outcome and the dispatcher folds them
// into a single Result that tells the caller whether to perform, alter or
// skip the default action.
package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/gamehook/internal/logging"
)

// DefaultLevels is the number of priority levels a dispatcher has unless
// configured otherwise.
const DefaultLevels = 5

// Named priority levels for the default level count.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
	PriorityLowest  = 4
)

// State is a dispatcher's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Payload is the data handed to every handler of one dispatch. Args are
// read-only; Value is the event's mutable field and reflects replacements
// made by earlier handlers.
type Payload struct {
	Args  []any
	Value any
}

// Handler receives the payload and returns its outcome. A returned error is
// treated like a panic: logged, counted and then ignored.
type Handler func(p *Payload) (Outcome, error)

// Accept converts a proposed replacement to the event's value type.
type Accept func(v any) (any, bool)

// AcceptString accepts string replacements.
func AcceptString(v any) (any, bool) {
	s, ok := v.(string)
	return s, ok
}

// Registration identifies one registered handler.
type Registration struct {
	ID    uuid.UUID
	Owner string
	Level int
}

type entry struct {
	Registration
	fn Handler
}

type group struct {
	owner    string
	handlers []entry
}

// Dispatcher is one named broadcast point.
type Dispatcher struct {
	name     string
	accept   Accept
	log      *logging.Logger
	observer Observer
	state    atomic.Int32

	mu     sync.RWMutex
	levels [][]*group
	// snapshot is the flattened dispatch order, rebuilt on every change and
	// never mutated in place.
	snapshot []entry
}

// NewDispatcher creates a dispatcher in the created state.
func NewDispatcher(name string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:   name,
		log:    logging.NullLogger,
		levels: make([][]*group, DefaultLevels),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("event", name)
	return d
}

// Name returns the event name.
func (d *Dispatcher) Name() string { return d.name }

// Levels returns the number of priority levels.
func (d *Dispatcher) Levels() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.levels)
}

// Replaceable reports whether handlers may replace the event's value.
func (d *Dispatcher) Replaceable() bool { return d.accept != nil }

// State returns the lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Activate moves a created dispatcher to active. Retired dispatchers stay
// retired.
func (d *Dispatcher) Activate() {
	d.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
}

// Retire makes every later dispatch a no-op and drops all handlers.
func (d *Dispatcher) Retire() {
	d.state.Store(int32(StateRetired))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.levels {
		d.levels[i] = nil
	}
	d.snapshot = nil
}

// Register adds fn for owner at the given priority level and returns its id.
func (d *Dispatcher) Register(owner string, level int, fn Handler) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, fmt.Errorf("event %s: %w", d.name, ErrNilHandler)
	}
	if d.State() == StateRetired {
		return uuid.Nil, fmt.Errorf("event %s: %w", d.name, ErrRetired)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if level < 0 || level >= len(d.levels) {
		return uuid.Nil, fmt.Errorf("event %s: %w: %d not in [0, %d)", d.name, ErrLevel, level, len(d.levels))
	}

	e := entry{Registration: Registration{ID: uuid.New(), Owner: owner, Level: level}, fn: fn}
	var g *group
	for _, existing := range d.levels[level] {
		if existing.owner == owner {
			g = existing
			break
		}
	}
	if g == nil {
		g = &group{owner: owner}
		d.levels[level] = append(d.levels[level], g)
	}
	g.handlers = append(g.handlers, e)
	d.rebuild()

	d.log.Debug("registered handler %s for %s at level %d", e.ID, owner, level)
	return e.ID, nil
}

// Unregister removes owner's handler id. It reports whether it was found.
func (d *Dispatcher) Unregister(owner string, id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for li, groups := range d.levels {
		for gi, g := range groups {
			if g.owner != owner {
				continue
			}
			for hi, h := range g.handlers {
				if h.ID != id {
					continue
				}
				g.handlers = append(g.handlers[:hi:hi], g.handlers[hi+1:]...)
				if len(g.handlers) == 0 {
					d.levels[li] = append(groups[:gi:gi], groups[gi+1:]...)
				}
				d.rebuild()
				return true
			}
		}
	}
	return false
}

// UnregisterOwner removes every handler owner registered and returns how
// many were removed.
func (d *Dispatcher) UnregisterOwner(owner string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for li, groups := range d.levels {
		kept := groups[:0:0]
		for _, g := range groups {
			if g.owner == owner {
				n += len(g.handlers)
				continue
			}
			kept = append(kept, g)
		}
		d.levels[li] = kept
	}
	if n > 0 {
		d.rebuild()
	}
	return n
}

// Handlers returns the registrations in dispatch order.
func (d *Dispatcher) Handlers() []Registration {
	d.mu.RLock()
	snap := d.snapshot
	d.mu.RUnlock()

	out := make([]Registration, len(snap))
	for i, e := range snap {
		out[i] = e.Registration
	}
	return out
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.snapshot)
}

// rebuild flattens the levels into a fresh snapshot. Callers hold mu.
func (d *Dispatcher) rebuild() {
	var snap []entry
	for _, groups := range d.levels {
		for _, g := range groups {
			snap = append(snap, g.handlers...)
		}
	}
	d.snapshot = snap
}

// Dispatch runs the handler chain over p and returns the aggregate result.
//
// The chain is the snapshot taken when dispatch starts; handlers added or
// removed while it runs take effect from the next dispatch. A dispatcher
// that is not active, or has no handlers, allows the default action. The
// observer sees every dispatch of an active dispatcher.
func (d *Dispatcher) Dispatch(p *Payload) Result {
	res := Result{Decision: Allow}
	if d.State() != StateActive {
		return res
	}

	if p == nil {
		p = &Payload{}
	}
	d.mu.RLock()
	snap := d.snapshot
	d.mu.RUnlock()
	if len(snap) == 0 {
		if d.observer != nil {
			d.observer.Dispatched(d.name, p, res, 0)
		}
		return res
	}

	start := time.Now()
chain:
	for _, e := range snap {
		out, err := d.invoke(e, p)
		res.Ran++
		if err != nil {
			res.Faults++
			fault := &FaultError{Event: d.name, Owner: e.Owner, ID: e.ID, Err: err}
			d.log.Warn("%v", fault)
			if d.observer != nil {
				d.observer.HandlerFault(fault)
			}
			continue
		}

		switch out.kind {
		case KindContinue:
		case KindStop:
			res.Decision, res.Value, res.Stopped = Allow, nil, true
			break chain
		case KindStopAll:
			res.Decision, res.Value, res.Stopped = Suppress, nil, true
			break chain
		case KindStopEvent:
			res.Decision, res.Value = Suppress, nil
		case KindReplace:
			v, ok := d.replacement(out.value)
			if !ok {
				d.log.Warn("handler %s (%s) returned unusable replacement %T", e.ID, e.Owner, out.value)
				continue
			}
			p.Value = v
			res.Decision, res.Value = Replaced, v
		default:
			d.log.Warn("handler %s (%s) returned unknown outcome %v", e.ID, e.Owner, out.kind)
		}
	}

	if d.observer != nil {
		d.observer.Dispatched(d.name, p, res, time.Since(start))
	}
	return res
}

func (d *Dispatcher) replacement(v any) (any, bool) {
	if d.accept == nil {
		return nil, false
	}
	return d.accept(v)
}

// invoke calls one handler, converting a panic into an error.
func (d *Dispatcher) invoke(e entry, p *Payload) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = Continue, &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return e.fn(p)
}
