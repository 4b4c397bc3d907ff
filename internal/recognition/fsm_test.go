package recognition

import "testing"

func TestNextState(t *testing.T) {
	tests := []struct {
		from State
		by   transition
		want State
	}{
		{StateIdle, transitionStart, StateListening},
		{StateStopped, transitionStart, StateListening},
		{StateListening, transitionStop, StateIdle},
		{StateListening, transitionFail, StateRestarting},
		{StateListening, transitionFatal, StateStopped},
		{StateListening, transitionExhausted, StateStopped},
		{StateRestarting, transitionRestarted, StateListening},
		{StateRestarting, transitionStop, StateIdle},
		{StateRestarting, transitionExhausted, StateStopped},
	}

	for _, tt := range tests {
		got, err := nextState(tt.from, tt.by)
		if err != nil {
			t.Errorf("nextState(%s, %s) error = %v", tt.from, tt.by, err)
			continue
		}
		if got != tt.want {
			t.Errorf("nextState(%s, %s) = %s, want %s", tt.from, tt.by, got, tt.want)
		}
	}
}

func TestNextState_Invalid(t *testing.T) {
	tests := []struct {
		from State
		by   transition
	}{
		{StateIdle, transitionStop},
		{StateIdle, transitionFail},
		{StateListening, transitionStart},
		{StateListening, transitionRestarted},
		{StateRestarting, transitionStart},
		{StateStopped, transitionRestarted},
	}

	for _, tt := range tests {
		got, err := nextState(tt.from, tt.by)
		if err == nil {
			t.Errorf("nextState(%s, %s) expected error", tt.from, tt.by)
		}
		if got != tt.from {
			t.Errorf("nextState(%s, %s) moved to %s on error", tt.from, tt.by, got)
		}
	}

	if _, err := nextState(State("bogus"), transitionStart); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestParseReason(t *testing.T) {
	tests := map[string]ErrorReason{
		"permission-denied": ReasonPermissionDenied,
		"not-allowed":       ReasonPermissionDenied,
		"no-speech":         ReasonNoSpeech,
		"audio-capture":     ReasonNoMicrophone,
		"no-microphone":     ReasonNoMicrophone,
		"network":           ReasonOther,
		"":                  ReasonOther,
	}
	for code, want := range tests {
		if got := ParseReason(code); got != want {
			t.Errorf("ParseReason(%q) = %s, want %s", code, got, want)
		}
	}
}
