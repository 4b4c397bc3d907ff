// Package recognition runs a continuous speech-recognition stream and turns
// its results into transcripts and trigger detections.
package recognition

import "errors"

// ErrorReason classifies engine errors.
type ErrorReason string

const (
	ReasonPermissionDenied ErrorReason = "permission-denied"
	ReasonNoSpeech         ErrorReason = "no-speech"
	ReasonNoMicrophone     ErrorReason = "no-microphone"
	ReasonOther            ErrorReason = "other"
)

// ParseReason maps engine-reported error codes onto the known reasons.
// Unknown codes are ReasonOther.
func ParseReason(code string) ErrorReason {
	switch code {
	case "permission-denied", "not-allowed", "service-not-allowed":
		return ReasonPermissionDenied
	case "no-speech":
		return ReasonNoSpeech
	case "no-microphone", "audio-capture":
		return ReasonNoMicrophone
	default:
		return ReasonOther
	}
}

// EventKind is the type of an engine event.
type EventKind int

const (
	EventResult EventKind = iota
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Result is one transcript segment.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// Event is delivered by an Engine to the handler passed to Start. For
// EventResult, segments before ResultIndex were already delivered.
type Event struct {
	Kind        EventKind
	ResultIndex int
	Results     []Result
	Reason      ErrorReason
	Err         error
}

// ErrEngineUnavailable is returned by engines that cannot run on the current
// client or configuration.
var ErrEngineUnavailable = errors.New("speech recognition engine unavailable")

// Engine is a continuous speech-to-text capability. Start opens the
// microphone stream and delivers events to handler until Stop is called or
// the engine ends on its own (EventEnd).
type Engine interface {
	Available() bool
	Reinitialize() error
	Start(handler func(Event)) error
	Stop() error
}
