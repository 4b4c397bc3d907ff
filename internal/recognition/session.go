package recognition

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/clock"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/resilience"
	"github.com/safecircle/voice-guard/internal/trigger"
)

// Fixed messages delivered through the result callback. Callers tell them
// apart from transcripts by comparing against these values.
const (
	MsgListening        = "I'm listening..."
	MsgPermissionDenied = "Microphone access was denied. Please allow microphone access to use voice commands."
	MsgNoMicrophone     = "No microphone was found. Please connect a microphone and try again."
	MsgRestartExhausted = "Voice recognition stopped after repeated errors. Tap the microphone to try again."
	MsgUnsupported      = "Speech recognition is not supported here. You can still type your message."

	// InterimSuffix marks interim transcripts delivered through the result callback.
	InterimSuffix = " (listening...)"
)

const (
	DefaultConfidenceThreshold = 0.1
	DefaultMinWordCount        = 1
	DefaultInactivityTimeout   = 20 * time.Second
)

// Detection is reported through the trigger callback for every final
// segment that matched a lexicon phrase.
type Detection struct {
	Phrase string
	Fuzzy  bool
	// Text is the final segment the phrase was found in.
	Text string
}

// ResultFunc receives transcripts, interim feedback and fixed messages.
type ResultFunc func(text string)

// TriggerFunc receives trigger detections.
type TriggerFunc func(Detection)

// Options configures a Session. Zero values select defaults.
type Options struct {
	Engine              Engine
	Matcher             *trigger.Matcher
	Clock               clock.Clock
	RestartPolicy       *resilience.RestartPolicy
	InactivityTimeout   time.Duration
	ConfidenceThreshold *float64
	MinWordCount        int
	Logger              *zerolog.Logger
	// OnStateChange is called after every state change, outside the lock.
	OnStateChange func(State)
}

// Snapshot is a copy of the session's state.
type Snapshot struct {
	State               State
	IsListening         bool
	RestartCount        int
	LastResultAt        time.Time
	ConfidenceThreshold float64
	MinWordCount        int
	InactivityTimeout   time.Duration
}

// Session owns one recognition stream. All state is guarded by mu and
// callbacks always run after mu is released, so they may call back into the
// session.
type Session struct {
	engine        Engine
	matcher       *trigger.Matcher
	clock         clock.Clock
	policy        resilience.RestartPolicy
	logger        zerolog.Logger
	onStateChange func(State)

	mu                  sync.Mutex
	state               State
	gen                 uint64
	closed              bool
	unsupportedReported bool
	restartCount        int
	lastResultAt        time.Time
	confidenceThreshold float64
	minWordCount        int
	inactivityTimeout   time.Duration
	watchdog            clock.Timer
	restartTimer        clock.Timer
	transcript          []string
	onResult            ResultFunc
	onTrigger           TriggerFunc
}

// NewSession creates an idle session.
func NewSession(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("recognition: engine is required")
	}

	s := &Session{
		engine:              opts.Engine,
		matcher:             opts.Matcher,
		clock:               opts.Clock,
		policy:              resilience.DefaultRestartPolicy(),
		onStateChange:       opts.OnStateChange,
		state:               StateIdle,
		confidenceThreshold: DefaultConfidenceThreshold,
		minWordCount:        DefaultMinWordCount,
		inactivityTimeout:   DefaultInactivityTimeout,
	}
	if s.matcher == nil {
		s.matcher = trigger.NewMatcher(trigger.DefaultLexicon())
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if opts.RestartPolicy != nil {
		s.policy = *opts.RestartPolicy
	}
	if opts.InactivityTimeout > 0 {
		s.inactivityTimeout = opts.InactivityTimeout
	}
	if opts.ConfidenceThreshold != nil {
		s.confidenceThreshold = clampUnit(*opts.ConfidenceThreshold)
	}
	if opts.MinWordCount > 0 {
		s.minWordCount = opts.MinWordCount
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	} else {
		s.logger = observability.Component("recognition")
	}
	return s, nil
}

// Start begins listening. It is a no-op while already listening or when the
// engine cannot be made available.
func (s *Session) Start(onResult ResultFunc, onTrigger TriggerFunc) {
	s.mu.Lock()
	busy := s.closed || s.state.active()
	s.mu.Unlock()
	if busy || !s.ensureAvailable(onResult) {
		return
	}

	s.mu.Lock()
	if s.closed || s.state.active() {
		s.mu.Unlock()
		return
	}
	if !s.transitionLocked(transitionStart) {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.restartCount = 0
	s.transcript = nil
	s.onResult = onResult
	s.onTrigger = onTrigger
	s.lastResultAt = s.clock.Now()
	s.armWatchdogLocked()
	s.mu.Unlock()

	observability.RecordRecognitionStart()
	s.logger.Info().Msg("Recognition session started")
	s.notifyState(StateListening)
	s.emitResult(onResult, MsgListening)

	if err := s.engine.Start(s.handlerFor(gen)); err != nil {
		s.logger.Warn().Err(err).Msg("Engine failed to start")
		s.mu.Lock()
		if gen != s.gen || s.state != StateListening {
			s.mu.Unlock()
			return
		}
		calls := s.beginRestartLocked()
		s.mu.Unlock()
		runAll(calls)
	}
}

// ensureAvailable tries one re-initialization of an unavailable engine.
func (s *Session) ensureAvailable(onResult ResultFunc) bool {
	if s.engine.Available() {
		return true
	}
	if err := s.engine.Reinitialize(); err != nil {
		s.logger.Warn().Err(err).Msg("Speech recognition re-initialization failed")
	} else if s.engine.Available() {
		return true
	}

	s.mu.Lock()
	first := !s.unsupportedReported
	s.unsupportedReported = true
	s.mu.Unlock()

	s.logger.Warn().Msg("Speech recognition not supported")
	if first {
		s.emitResult(onResult, MsgUnsupported)
	}
	return false
}

// Stop stops listening. It is safe to call at any time and more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.state.active() {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.cancelTimersLocked()
	s.transitionLocked(transitionStop)
	s.mu.Unlock()

	s.stopEngine()
	s.logger.Info().Msg("Recognition session stopped")
	s.notifyState(StateIdle)
}

// Close stops the session and rejects further starts.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
}

// IsListening reports whether the microphone is meant to be open, including
// while a restart is pending.
func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.active()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:               s.state,
		IsListening:         s.state.active(),
		RestartCount:        s.restartCount,
		LastResultAt:        s.lastResultAt,
		ConfidenceThreshold: s.confidenceThreshold,
		MinWordCount:        s.minWordCount,
		InactivityTimeout:   s.inactivityTimeout,
	}
}

// Transcript returns the final segments received since the last start,
// joined with spaces.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.transcript, " ")
}

// SetConfidenceThreshold sets the confidence below which final results are
// logged as low confidence, clamped to [0,1]. NaN counts as 0.
func (s *Session) SetConfidenceThreshold(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confidenceThreshold = clampUnit(v)
}

// SetMinWordCount sets the word count below which final results are logged
// as short, clamped to at least 1.
func (s *Session) SetMinWordCount(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minWordCount = n
}

func (s *Session) handlerFor(gen uint64) func(Event) {
	return func(ev Event) {
		s.dispatch(gen, ev)
	}
}

func (s *Session) dispatch(gen uint64, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("Recovered from panic in recognition event")
		}
	}()

	s.mu.Lock()
	if gen != s.gen || s.state != StateListening {
		s.mu.Unlock()
		s.logger.Debug().Str("event", ev.Kind.String()).Msg("Ignoring event for inactive stream")
		return
	}

	var calls []func()
	switch ev.Kind {
	case EventResult:
		calls = s.handleResultLocked(ev)
	case EventError:
		calls = s.handleErrorLocked(ev)
	case EventEnd:
		s.logger.Info().Msg("Engine ended unexpectedly")
		calls = s.beginRestartLocked()
	}
	s.mu.Unlock()

	runAll(calls)
}

func (s *Session) handleResultLocked(ev Event) []func() {
	var calls []func()
	onResult, onTrigger := s.onResult, s.onTrigger

	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(ev.Results); i++ {
		r := ev.Results[i]
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if !r.IsFinal {
			interim := r.Text + InterimSuffix
			calls = append(calls, func() { s.emitResult(onResult, interim) })
			continue
		}
		s.transcript = append(s.transcript, text)

		words := len(strings.Fields(text))
		if r.Confidence < s.confidenceThreshold {
			s.logger.Debug().Float64("confidence", r.Confidence).Str("text", text).Msg("Low confidence result")
		}
		if words < s.minWordCount {
			s.logger.Debug().Int("words", words).Str("text", text).Msg("Short result")
		}

		calls = append(calls, func() { s.emitResult(onResult, text) })

		decision := s.matcher.Match(text)
		if decision.Matched {
			d := Detection{Phrase: decision.Phrase, Fuzzy: decision.Fuzzy, Text: text}
			s.logger.Info().Str("phrase", d.Phrase).Bool("fuzzy", d.Fuzzy).Msg("Trigger phrase detected")
			calls = append(calls, func() { s.emitTrigger(onTrigger, d) })
		}
	}

	s.lastResultAt = s.clock.Now()
	s.armWatchdogLocked()
	return calls
}

func (s *Session) handleErrorLocked(ev Event) []func() {
	reason := ev.Reason
	if reason == "" {
		reason = ReasonOther
	}
	observability.RecordRecognitionError(string(reason))
	s.lastResultAt = s.clock.Now()
	s.armWatchdogLocked()

	switch reason {
	case ReasonPermissionDenied, ReasonNoMicrophone:
		s.logger.Warn().Err(ev.Err).Str("reason", string(reason)).Msg("Recognition stopped")
		msg := MsgPermissionDenied
		if reason == ReasonNoMicrophone {
			msg = MsgNoMicrophone
		}
		return s.haltLocked(transitionFatal, msg)
	case ReasonNoSpeech:
		s.logger.Debug().Msg("No speech detected")
		return nil
	default:
		s.logger.Warn().Err(ev.Err).Str("reason", string(reason)).Msg("Recognition error")
		return s.beginRestartLocked()
	}
}

// haltLocked moves the session to Stopped without restarting and reports msg.
func (s *Session) haltLocked(t transition, msg string) []func() {
	s.gen++
	s.cancelTimersLocked()
	s.transitionLocked(t)
	onResult := s.onResult
	return []func(){
		s.stopEngine,
		func() { s.notifyState(StateStopped) },
		func() { s.emitResult(onResult, msg) },
	}
}

// beginRestartLocked consumes one unit of restart budget and schedules the
// first start attempt, or stops the session when the budget is spent.
func (s *Session) beginRestartLocked() []func() {
	s.restartCount++
	if s.policy.Exhausted(s.restartCount) {
		observability.RecordRestart("exhausted")
		s.logger.Error().Int("restart_count", s.restartCount).Msg("Restart budget exhausted")
		return s.haltLocked(transitionExhausted, MsgRestartExhausted)
	}

	if s.state == StateListening {
		s.transitionLocked(transitionFail)
	}
	s.logger.Info().Int("restart_count", s.restartCount).Msg("Scheduling recognition restart")
	s.scheduleAttemptLocked(0)
	return []func(){func() { s.notifyState(StateRestarting) }}
}

func (s *Session) scheduleAttemptLocked(attempt int) {
	gen := s.gen
	s.restartTimer = s.clock.AfterFunc(s.policy.Delay(attempt), func() {
		s.attemptRestart(gen, attempt)
	})
}

func (s *Session) attemptRestart(gen uint64, attempt int) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateRestarting {
		s.mu.Unlock()
		return
	}
	s.restartTimer = nil
	s.transitionLocked(transitionRestarted)
	s.mu.Unlock()

	err := s.engine.Start(s.handlerFor(gen))

	s.mu.Lock()
	if gen != s.gen || s.state != StateListening {
		s.mu.Unlock()
		if err == nil {
			s.stopEngine()
		}
		return
	}
	if err == nil {
		s.mu.Unlock()
		observability.RecordRestart("success")
		s.logger.Info().Int("attempt", attempt+1).Msg("Recognition restarted")
		s.notifyState(StateListening)
		return
	}

	s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Restart attempt failed")
	var calls []func()
	if attempt+1 < s.policy.Attempts() {
		s.transitionLocked(transitionFail)
		s.scheduleAttemptLocked(attempt + 1)
	} else {
		observability.RecordRestart("failed")
		calls = s.beginRestartLocked()
	}
	s.mu.Unlock()
	runAll(calls)
}

func (s *Session) armWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	gen := s.gen
	s.watchdog = s.clock.AfterFunc(s.inactivityTimeout, func() {
		s.onInactivity(gen)
	})
}

func (s *Session) onInactivity(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.state.active() {
		s.mu.Unlock()
		return
	}
	idle := s.clock.Now().Sub(s.lastResultAt)
	s.mu.Unlock()

	observability.RecordInactivityStop()
	s.logger.Info().Dur("idle", idle).Msg("Inactivity timeout, stopping recognition")
	s.Stop()
}

func (s *Session) cancelTimersLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func (s *Session) transitionLocked(t transition) bool {
	next, err := nextState(s.state, t)
	if err != nil {
		s.logger.Error().Err(err).Msg("Rejected state transition")
		return false
	}
	s.state = next
	return true
}

func (s *Session) stopEngine() {
	if err := s.engine.Stop(); err != nil {
		s.logger.Debug().Err(err).Msg("Engine stop returned error")
	}
}

func (s *Session) notifyState(state State) {
	if s.onStateChange == nil {
		return
	}
	defer s.recoverCallback("state")
	s.onStateChange(state)
}

func (s *Session) emitResult(onResult ResultFunc, text string) {
	if onResult == nil {
		return
	}
	defer s.recoverCallback("result")
	onResult(text)
}

func (s *Session) emitTrigger(onTrigger TriggerFunc, d Detection) {
	if onTrigger == nil {
		return
	}
	defer s.recoverCallback("trigger")
	onTrigger(d)
}

func (s *Session) recoverCallback(name string) {
	if r := recover(); r != nil {
		s.logger.Error().Interface("panic", r).Str("callback", name).Msg("Recovered from panic in callback")
	}
}

func runAll(calls []func()) {
	for _, c := range calls {
		c()
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
