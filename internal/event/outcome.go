package event

import "fmt"

// Kind is the control signal carried by an Outcome.
type Kind uint8

const (
	// KindContinue expresses no opinion.
	KindContinue Kind = iota
	// KindStop ends the chain and allows the default action unmodified.
	KindStop
	// KindStopEvent suppresses the default action but lets the chain run on.
	KindStopEvent
	// KindStopAll ends the chain and suppresses the default action.
	KindStopAll
	// KindReplace proposes a new value for the event's mutable field.
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindStop:
		return "stop"
	case KindStopEvent:
		return "stop_event"
	case KindStopAll:
		return "stop_all"
	case KindReplace:
		return "replace"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Outcome is what a handler returns for one invocation.
type Outcome struct {
	kind  Kind
	value any
}

// Control outcomes.
var (
	Continue  = Outcome{kind: KindContinue}
	Stop      = Outcome{kind: KindStop}
	StopEvent = Outcome{kind: KindStopEvent}
	StopAll   = Outcome{kind: KindStopAll}
)

// Replace returns an outcome proposing v as the event's new value.
func Replace(v any) Outcome {
	return Outcome{kind: KindReplace, value: v}
}

// Kind returns the control signal.
func (o Outcome) Kind() Kind { return o.kind }

// Value returns the proposed value of a replace outcome.
func (o Outcome) Value() any { return o.value }

func (o Outcome) String() string {
	if o.kind == KindReplace {
		return fmt.Sprintf("replace(%v)", o.value)
	}
	return o.kind.String()
}

// Decision is the aggregate verdict of a dispatch.
type Decision uint8

const (
	// Allow performs the default action unmodified.
	Allow Decision = iota
	// Suppress skips the default action.
	Suppress
	// Replaced performs the default action with Result.Value.
	Replaced
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Suppress:
		return "suppress"
	case Replaced:
		return "replace"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Result is the outcome of one dispatch.
type Result struct {
	Decision Decision
	// Value is the replacement when Decision is Replaced.
	Value any
	// Ran counts handlers invoked, Faults those that failed.
	Ran    int
	Faults int
	// Stopped is set when a handler ended the chain early.
	Stopped bool
}

// Suppressed reports whether the default action must be skipped.
func (r Result) Suppressed() bool { return r.Decision == Suppress }

// Text returns the replacement as a string when the decision is Replaced.
func (r Result) Text() (string, bool) {
	if r.Decision != Replaced {
		return "", false
	}
	s, ok := r.Value.(string)
	return s, ok
}
