package resilience

import "time"

// RestartPolicy bounds automatic recovery of a recognition stream. A restart
// consumes one unit of budget and makes up to len(Delays) start attempts,
// waiting Delays[i] before attempt i.
type RestartPolicy struct {
	MaxRestarts int
	Backoff     time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
	// AttemptsPerRestart is the number of start attempts per restart.
	AttemptsPerRestart int
}

// DefaultRestartPolicy allows five restarts, each trying to start after
// 500ms and once more after a further 1s.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:        5,
		Backoff:            500 * time.Millisecond,
		Multiplier:         2.0,
		MaxBackoff:         time.Second,
		AttemptsPerRestart: 2,
	}
}

// Exhausted reports whether restartCount has gone past the budget.
func (p RestartPolicy) Exhausted(restartCount int) bool {
	return restartCount > p.MaxRestarts
}

// Delay returns the wait before the given zero-based start attempt.
func (p RestartPolicy) Delay(attempt int) time.Duration {
	return CalculateBackoff(attempt, p.Backoff, p.MaxBackoff, p.Multiplier)
}

// Attempts returns the number of start attempts per restart, at least one.
func (p RestartPolicy) Attempts() int {
	if p.AttemptsPerRestart < 1 {
		return 1
	}
	return p.AttemptsPerRestart
}
