package audio

import "time"

// SilenceConfig holds configuration for silence tracking
type SilenceConfig struct {
	EnergyThreshold float64       // RMS energy below which a chunk counts as silence
	SampleRate      int           // Samples per second of the tracked stream
	Limit           time.Duration // Continuous silence reported as no-speech
}

// DefaultSilenceConfig returns a default silence tracking configuration
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		EnergyThreshold: 500.0,
		SampleRate:      16000,
		Limit:           8 * time.Second,
	}
}

// SilenceTracker accumulates the duration of continuous silence in a PCM
// stream, measured by sample count rather than wall time. It is not safe for
// concurrent use.
type SilenceTracker struct {
	config   SilenceConfig
	silent   time.Duration
	reported bool
}

// NewSilenceTracker creates a tracker; zero config fields take defaults.
func NewSilenceTracker(config SilenceConfig) *SilenceTracker {
	def := DefaultSilenceConfig()
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = def.EnergyThreshold
	}
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	return &SilenceTracker{config: config}
}

// Process accounts for one chunk of samples. It returns true exactly once
// per silent stretch, when the accumulated silence first reaches the limit.
func (s *SilenceTracker) Process(samples []int16) bool {
	if len(samples) == 0 {
		return false
	}

	if CalculateRMS(samples) > s.config.EnergyThreshold {
		s.Reset()
		return false
	}

	s.silent += time.Duration(len(samples)) * time.Second / time.Duration(s.config.SampleRate)
	if !s.reported && s.silent >= s.config.Limit {
		s.reported = true
		return true
	}
	return false
}

// Silent returns the current continuous silence.
func (s *SilenceTracker) Silent() time.Duration {
	return s.silent
}

// Reset starts a new silent stretch
func (s *SilenceTracker) Reset() {
	s.silent = 0
	s.reported = false
}
