package session

import "github.com/obiente/translate/govoice/internal/signals"

type State int

const (
	Idle State = iota
	Capturing
	Draining
	AwaitingOutput
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Draining:
		return "draining"
	case AwaitingOutput:
		return "awaiting_output"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Next is the trigger half of the transition table. Completion of the
// drain step moves Draining forward on its own and is not a trigger.
// ok is false when t has no effect in s.
func Next(s State, t signals.Trigger) (State, bool) {
	switch {
	case s == Idle && t == signals.Shutdown:
		return Terminated, true
	case s == Capturing && t == signals.Transcribe:
		return Draining, true
	case s == Capturing && t == signals.Shutdown:
		return Terminated, true
	case s == Draining && t == signals.Shutdown:
		return Terminated, true
	}
	return s, false
}

// Status is a point-in-time view of the controller.
type Status struct {
	State           State
	Session         string
	BufferedSeconds float64
}
