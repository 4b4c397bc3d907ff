package recognition

import "fmt"

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

type transition string

const (
	transitionStart     transition = "start"
	transitionStop      transition = "stop"
	transitionFail      transition = "fail"
	transitionRestarted transition = "restarted"
	transitionFatal     transition = "fatal"
	transitionExhausted transition = "exhausted"
)

func nextState(current State, t transition) (State, error) {
	switch current {
	case StateIdle, StateStopped:
		switch t {
		case transitionStart:
			return StateListening, nil
		default:
			return current, invalidTransition(current, t)
		}
	case StateListening:
		switch t {
		case transitionStop:
			return StateIdle, nil
		case transitionFail:
			return StateRestarting, nil
		case transitionFatal, transitionExhausted:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, t)
		}
	case StateRestarting:
		switch t {
		case transitionStop:
			return StateIdle, nil
		case transitionRestarted:
			return StateListening, nil
		case transitionFatal, transitionExhausted:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, t)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, t transition) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, t)
}

// active reports whether the microphone is meant to be open.
func (s State) active() bool {
	return s == StateListening || s == StateRestarting
}
