package event

import "github.com/dshills/gamehook/internal/logging"

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLevels sets the number of priority levels.
func WithLevels(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.levels = make([][]*group, n)
		}
	}
}

// WithReplace makes the event's value replaceable by handlers. accept
// converts a proposed value to the event's type or rejects it.
func WithReplace(accept Accept) Option {
	return func(d *Dispatcher) {
		d.accept = accept
	}
}

// WithLogger sets the logger faults are reported to.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.log = logging.OrNull(l)
	}
}

// WithObserver sets the observer notified of dispatches and faults.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}
