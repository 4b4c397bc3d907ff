package transport

import (
	"github.com/safecircle/voice-guard/internal/alert"
	"github.com/safecircle/voice-guard/internal/recognition"
	"github.com/safecircle/voice-guard/internal/speech"
)

// Client -> server events.
const (
	EventHello             = "hello"
	EventToggle            = "toggle"
	EventStart             = "start"
	EventStop              = "stop"
	EventText              = "text"
	EventAudio             = "audio"
	EventRecognitionResult = "recognition_result"
	EventRecognitionError  = "recognition_error"
	EventRecognitionEnd    = "recognition_end"
	EventVoices            = "voices"
	EventSpeechDone        = "speech_done"
	EventPlaybackDone      = "playback_done"
	EventTune              = "tune"
)

// Server -> client frame types.
const (
	FrameSession           = "session"
	FrameTranscript        = "transcript"
	FrameListening         = "listening"
	FrameEmergencyDetected = "emergency_detected"
	FrameEmergency         = "emergency"
	FrameReply             = "reply"
	FrameError             = "error"
	FrameRecognitionStart  = "recognition_start"
	FrameRecognitionStop   = "recognition_stop"
	FrameSpeak             = "speak"
	FrameSpeakCancel       = "speak_cancel"
	FrameAudio             = "audio"
)

// ClientFrame is a message received from the client.
type ClientFrame struct {
	Event string `json:"event"`

	// text
	Text string `json:"text,omitempty"`

	// audio: base64 linear16 mono PCM
	Payload string `json:"payload,omitempty"`

	// recognition_result / recognition_error / recognition_end; Run echoes
	// the run id of the recognition_start that opened the run.
	Run         string        `json:"run,omitempty"`
	ResultIndex int           `json:"result_index,omitempty"`
	Results     []ResultFrame `json:"results,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Message     string        `json:"message,omitempty"`

	// voices
	Voices []speech.Voice `json:"voices,omitempty"`

	// speech_done / playback_done
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`

	// tune
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MinWordCount        *int     `json:"min_word_count,omitempty"`

	// hello
	SpeechRecognition *bool `json:"speech_recognition,omitempty"`
}

// ResultFrame is one recognition segment reported by the client engine.
type ResultFrame struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// ServerFrame is a message sent to the client.
type ServerFrame struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	Engine    string `json:"engine,omitempty"`

	Text      string `json:"text,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Listening *bool  `json:"listening,omitempty"`

	Phrase string `json:"phrase,omitempty"`
	Fuzzy  bool   `json:"fuzzy,omitempty"`
	Source string `json:"source,omitempty"`

	Emergency *alert.Emergency `json:"emergency,omitempty"`

	// recognition_start / recognition_stop
	Run string `json:"run,omitempty"`

	// speak / audio
	ID       string        `json:"id,omitempty"`
	Voice    *speech.Voice `json:"voice,omitempty"`
	Rate     float64       `json:"rate,omitempty"`
	Pitch    float64       `json:"pitch,omitempty"`
	Data     string        `json:"data,omitempty"`
	MIMEType string        `json:"mime_type,omitempty"`
}

func (f ClientFrame) recognitionEvent() recognition.Event {
	switch f.Event {
	case EventRecognitionError:
		ev := recognition.Event{Kind: recognition.EventError, Reason: recognition.ParseReason(f.Reason)}
		if f.Message != "" {
			ev.Err = &clientError{reason: f.Reason, message: f.Message}
		}
		return ev
	case EventRecognitionEnd:
		return recognition.Event{Kind: recognition.EventEnd}
	default:
		results := make([]recognition.Result, len(f.Results))
		for i, r := range f.Results {
			results[i] = recognition.Result{Text: r.Transcript, Confidence: r.Confidence, IsFinal: r.IsFinal}
		}
		return recognition.Event{Kind: recognition.EventResult, ResultIndex: f.ResultIndex, Results: results}
	}
}

type clientError struct {
	reason  string
	message string
}

func (e *clientError) Error() string {
	return e.reason + ": " + e.message
}

func boolPtr(v bool) *bool {
	return &v
}
