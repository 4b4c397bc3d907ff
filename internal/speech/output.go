// Package speech turns text into audible speech, preferring remote
// synthesis and falling back to the client's local synthesizer.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/clock"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/tts"
)

const (
	minLocalDuration  = 2 * time.Second
	localPerCharacter = 100 * time.Millisecond
)

// RemoteSynthesizer produces high quality audio for text.
type RemoteSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error)
}

// Player plays synthesized audio. onDone is called once when playback ends,
// with a non-nil error if it failed part way. An error returned from Play
// means playback never started and onDone will not be called.
type Player interface {
	Play(ctx context.Context, a *tts.Audio, onDone func(error)) error
}

// Voice is a voice offered by a local synthesizer.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is one request to a local synthesizer.
type Utterance struct {
	Text  string
	Voice *Voice
	Rate  float64
	Pitch float64
}

// LocalSynthesizer is the basic speech engine of the client. onDone is
// called when the engine reports the utterance finished; it may never be
// called.
type LocalSynthesizer interface {
	Voices() []Voice
	Cancel()
	Speak(u Utterance, onDone func()) error
}

// Config configures an Output. Remote, Player and Local may be nil.
type Config struct {
	Remote RemoteSynthesizer
	Player Player
	Local  LocalSynthesizer
	Clock  clock.Clock
	Rate   float64
	Pitch  float64
	Logger *zerolog.Logger
}

// Output speaks text. Only one local utterance is active at a time; a new
// one cancels the previous.
type Output struct {
	remote RemoteSynthesizer
	player Player
	local  LocalSynthesizer
	clock  clock.Clock
	rate   float64
	pitch  float64
	logger zerolog.Logger

	mu          sync.Mutex
	localSeq    uint64
	activeLocal func()
}

// NewOutput creates a speech output.
func NewOutput(cfg Config) *Output {
	o := &Output{
		remote: cfg.Remote,
		player: cfg.Player,
		local:  cfg.Local,
		clock:  cfg.Clock,
		rate:   cfg.Rate,
		pitch:  cfg.Pitch,
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	if o.rate <= 0 {
		o.rate = 1.0
	}
	if o.pitch <= 0 {
		o.pitch = 1.0
	}
	if cfg.Logger != nil {
		o.logger = *cfg.Logger
	} else {
		o.logger = observability.Component("speech")
	}
	return o
}

// Speak speaks text and returns a channel closed once speaking has finished
// or been abandoned. The channel is always closed eventually.
func (o *Output) Speak(ctx context.Context, text string, preferHighQuality bool, voiceID string) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	complete := func() { once.Do(func() { close(done) }) }

	if strings.TrimSpace(text) == "" {
		complete()
		return done
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Interface("panic", r).Msg("Recovered from panic while speaking")
				complete()
			}
		}()

		if preferHighQuality && o.remote != nil && o.player != nil {
			if o.speakRemote(ctx, text, voiceID, complete) {
				return
			}
		}
		o.speakLocal(text, complete)
	}()

	return done
}

// SpeakAndWait speaks text and blocks until it has finished or ctx is done.
func (o *Output) SpeakAndWait(ctx context.Context, text string, preferHighQuality bool, voiceID string) error {
	select {
	case <-o.Speak(ctx, text, preferHighQuality, voiceID):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the active local utterance, if any, and completes it.
func (o *Output) Cancel() {
	o.mu.Lock()
	active := o.activeLocal
	o.activeLocal = nil
	o.localSeq++
	o.mu.Unlock()

	if o.local != nil {
		o.local.Cancel()
	}
	if active != nil {
		active()
	}
}

// speakRemote reports whether the remote path took over completion.
func (o *Output) speakRemote(ctx context.Context, text, voiceID string, complete func()) bool {
	start := time.Now()
	a, err := o.remote.Synthesize(ctx, text, voiceID)
	if err == nil && (a == nil || len(a.Data) == 0) {
		err = fmt.Errorf("synthesis returned no audio")
	}
	if err != nil {
		observability.RecordSynthesis("remote", false, time.Since(start))
		o.logger.Warn().Err(err).Msg("Remote synthesis failed, using local synthesizer")
		return false
	}

	var fallback sync.Once
	err = o.player.Play(ctx, a, func(playErr error) {
		if playErr == nil {
			observability.RecordSynthesis("remote", true, time.Since(start))
			complete()
			return
		}
		fallback.Do(func() {
			observability.RecordSynthesis("remote", false, time.Since(start))
			o.logger.Warn().Err(playErr).Msg("Playback failed, using local synthesizer")
			o.speakLocal(text, complete)
		})
	})
	if err != nil {
		observability.RecordSynthesis("remote", false, time.Since(start))
		o.logger.Warn().Err(err).Msg("Playback failed to start, using local synthesizer")
		return false
	}
	return true
}

func (o *Output) speakLocal(text string, complete func()) {
	if o.local == nil {
		o.logger.Debug().Msg("No local synthesizer, skipping speech")
		complete()
		return
	}

	o.mu.Lock()
	o.localSeq++
	seq := o.localSeq
	prev := o.activeLocal
	o.activeLocal = complete
	o.mu.Unlock()

	o.local.Cancel()
	if prev != nil {
		prev()
	}

	start := time.Now()
	finish := func() {
		o.mu.Lock()
		if o.localSeq == seq {
			o.activeLocal = nil
		}
		o.mu.Unlock()
		complete()
	}

	timer := o.clock.AfterFunc(LocalFallbackDuration(text), func() {
		o.logger.Debug().Msg("Local speech finished signal missing, completing by timeout")
		finish()
	})

	u := Utterance{
		Text:  text,
		Voice: PreferredVoice(o.local.Voices()),
		Rate:  o.rate,
		Pitch: o.pitch,
	}
	if err := o.local.Speak(u, func() {
		timer.Stop()
		observability.RecordSynthesis("local", true, time.Since(start))
		finish()
	}); err != nil {
		timer.Stop()
		observability.RecordSynthesis("local", false, time.Since(start))
		o.logger.Warn().Err(err).Msg("Local synthesis failed")
		finish()
	}
}

// LocalFallbackDuration is how long a local utterance may run before it is
// treated as finished.
func LocalFallbackDuration(text string) time.Duration {
	d := time.Duration(len(text)) * localPerCharacter
	if d < minLocalDuration {
		return minLocalDuration
	}
	return d
}

var preferredVoiceNames = []string{"google", "natural", "samantha", "microsoft aria", "zira", "enhanced"}

// PreferredVoice picks a natural sounding voice by name, preferring English
// voices. It returns nil when none match, leaving the platform default.
func PreferredVoice(voices []Voice) *Voice {
	var fallback *Voice
	for i := range voices {
		name := strings.ToLower(voices[i].Name)
		for _, want := range preferredVoiceNames {
			if !strings.Contains(name, want) {
				continue
			}
			if strings.HasPrefix(strings.ToLower(voices[i].Lang), "en") {
				v := voices[i]
				return &v
			}
			if fallback == nil {
				v := voices[i]
				fallback = &v
			}
			break
		}
	}
	return fallback
}
