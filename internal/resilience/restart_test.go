package resilience

import (
	"testing"
	"time"
)

func TestDefaultRestartPolicy(t *testing.T) {
	p := DefaultRestartPolicy()

	if p.Delay(0) != 500*time.Millisecond {
		t.Errorf("Expected first delay 500ms, got %v", p.Delay(0))
	}
	if p.Delay(1) != time.Second {
		t.Errorf("Expected second delay 1s, got %v", p.Delay(1))
	}
	if p.Delay(4) != time.Second {
		t.Errorf("Expected delay capped at 1s, got %v", p.Delay(4))
	}
	if p.Attempts() != 2 {
		t.Errorf("Expected 2 attempts per restart, got %d", p.Attempts())
	}
}

func TestRestartPolicy_Exhausted(t *testing.T) {
	p := DefaultRestartPolicy()

	for count := 0; count <= 5; count++ {
		if p.Exhausted(count) {
			t.Errorf("Expected restart %d to be within budget", count)
		}
	}
	if !p.Exhausted(6) {
		t.Error("Expected restart 6 to exhaust the budget")
	}
}

func TestRestartPolicy_AttemptsFloor(t *testing.T) {
	if got := (RestartPolicy{}).Attempts(); got != 1 {
		t.Errorf("Expected at least 1 attempt, got %d", got)
	}
}
