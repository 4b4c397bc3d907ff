// Package assistant binds one recognition session, one speech output and
// the chat backend to a single interactive screen.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/alert"
	"github.com/safecircle/voice-guard/internal/chat"
	"github.com/safecircle/voice-guard/internal/clock"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/recognition"
	"github.com/safecircle/voice-guard/internal/resilience"
	"github.com/safecircle/voice-guard/internal/trigger"
)

// UIEventType names an event shown on the screen.
type UIEventType string

const (
	EventTranscript        UIEventType = "transcript"
	EventListening         UIEventType = "listening"
	EventEmergencyDetected UIEventType = "emergency_detected"
	EventReply             UIEventType = "reply"
	EventError             UIEventType = "error"
)

// UIEvent is an update for the screen bound to the surface.
type UIEvent struct {
	Type      UIEventType
	Text      string
	Final     bool
	Listening bool
	Phrase    string
	Fuzzy     bool
	Source    string
}

// Speaker vocalizes text and signals completion by closing the channel.
type Speaker interface {
	Speak(ctx context.Context, text string, preferHighQuality bool, voiceID string) <-chan struct{}
}

// EmergencyFunc is invoked once per detected trigger occurrence.
type EmergencyFunc func(ctx context.Context, e alert.Emergency)

// Deps are the collaborators of a surface. Engine and Speaker are required.
type Deps struct {
	Engine      recognition.Engine
	Speaker     Speaker
	Processor   chat.Processor
	OnEmergency EmergencyFunc
	Emit        func(UIEvent)
	Matcher     *trigger.Matcher
	Clock       clock.Clock
}

// Options tune a surface.
type Options struct {
	SessionID           string
	VoiceID             string
	PreferHighQuality   bool
	ForwardVoiceToChat  bool
	InactivityTimeout   time.Duration
	ConfidenceThreshold *float64
	MinWordCount        int
	RestartPolicy       *resilience.RestartPolicy
	Logger              *zerolog.Logger
}

// Surface is the per-screen orchestrator. It owns its recognition session
// and must be closed to release the microphone.
type Surface struct {
	session   *recognition.Session
	speaker   Speaker
	processor chat.Processor
	emergency EmergencyFunc
	emit      func(UIEvent)
	matcher   *trigger.Matcher
	clock     clock.Clock
	opts      Options
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// respondMu serializes suspend/speak/resume cycles.
	respondMu sync.Mutex

	mu            sync.Mutex
	wantListening bool
	closed        bool
}

// New creates a surface with its own recognition session.
func New(deps Deps, opts Options) (*Surface, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("assistant: recognition engine is required")
	}
	if deps.Speaker == nil {
		return nil, fmt.Errorf("assistant: speaker is required")
	}

	s := &Surface{
		speaker:   deps.Speaker,
		processor: deps.Processor,
		emergency: deps.OnEmergency,
		emit:      deps.Emit,
		matcher:   deps.Matcher,
		clock:     deps.Clock,
		opts:      opts,
	}
	if s.processor == nil {
		s.processor = chat.Static{}
	}
	if s.emit == nil {
		s.emit = func(UIEvent) {}
	}
	if s.matcher == nil {
		s.matcher = trigger.NewMatcher(trigger.DefaultLexicon())
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	} else {
		s.logger = observability.WithCorrelationID(opts.SessionID).With().Str("component", "assistant").Logger()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	session, err := recognition.NewSession(recognition.Options{
		Engine:              deps.Engine,
		Matcher:             s.matcher,
		Clock:               s.clock,
		RestartPolicy:       opts.RestartPolicy,
		InactivityTimeout:   opts.InactivityTimeout,
		ConfidenceThreshold: opts.ConfidenceThreshold,
		MinWordCount:        opts.MinWordCount,
		Logger:              &s.logger,
		OnStateChange:       s.onStateChange,
	})
	if err != nil {
		return nil, err
	}
	s.session = session

	observability.SessionOpened()
	return s, nil
}

// Session exposes the recognition session for tuning and inspection.
func (s *Surface) Session() *recognition.Session {
	return s.session
}

// IsListening reports whether the session is listening.
func (s *Surface) IsListening() bool {
	return s.session.IsListening()
}

// ToggleListening starts or stops listening and returns the new state.
func (s *Surface) ToggleListening() bool {
	if s.session.IsListening() {
		s.StopListening()
	} else {
		s.StartListening()
	}
	return s.session.IsListening()
}

// StartListening starts the recognition session.
func (s *Surface) StartListening() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wantListening = true
	s.mu.Unlock()

	s.session.Start(s.onResult, s.onTrigger)
}

// StopListening stops the recognition session.
func (s *Surface) StopListening() {
	s.mu.Lock()
	s.wantListening = false
	s.mu.Unlock()

	s.session.Stop()
}

// SubmitText handles typed input. Emergency phrases are treated exactly like
// spoken ones; anything else goes to the chat backend and the reply is
// spoken.
func (s *Surface) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if d := s.matcher.Match(text); d.Matched {
		s.handleTrigger(recognition.Detection{Phrase: d.Phrase, Fuzzy: d.Fuzzy, Text: text}, alert.SourceText)
		return nil
	}
	return s.converse(ctx, text)
}

// Respond speaks text with recognition suspended, so the engine does not
// pick up the assistant's own voice. Listening resumes afterwards only if it
// was active before and the user has not stopped it meanwhile.
func (s *Surface) Respond(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	s.respondMu.Lock()
	defer s.respondMu.Unlock()

	wasListening := s.session.IsListening()
	if wasListening {
		s.session.Stop()
	}

	select {
	case <-s.speaker.Speak(ctx, text, s.opts.PreferHighQuality, s.opts.VoiceID):
	case <-ctx.Done():
	case <-s.ctx.Done():
	}

	s.mu.Lock()
	resume := wasListening && s.wantListening && !s.closed
	s.mu.Unlock()
	if resume {
		s.session.Start(s.onResult, s.onTrigger)
	}
}

// Close stops the session, releasing the microphone, and waits for
// background work started by the surface.
func (s *Surface) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.wantListening = false
	s.mu.Unlock()

	s.cancel()
	s.session.Close()
	if c, ok := s.speaker.(interface{ Cancel() }); ok {
		c.Cancel()
	}
	s.wg.Wait()
	observability.SessionClosed()
	s.logger.Info().Msg("Assistant surface closed")
}

func (s *Surface) onStateChange(state recognition.State) {
	listening := state == recognition.StateListening || state == recognition.StateRestarting
	s.emit(UIEvent{Type: EventListening, Listening: listening})
}

func (s *Surface) onResult(text string) {
	switch text {
	case recognition.MsgPermissionDenied, recognition.MsgNoMicrophone,
		recognition.MsgRestartExhausted, recognition.MsgUnsupported:
		s.emit(UIEvent{Type: EventError, Text: text})
		return
	case recognition.MsgListening:
		s.emit(UIEvent{Type: EventTranscript, Text: text})
		return
	}

	if strings.HasSuffix(text, recognition.InterimSuffix) {
		s.emit(UIEvent{Type: EventTranscript, Text: text})
		return
	}

	s.emit(UIEvent{Type: EventTranscript, Text: text, Final: true, Source: alert.SourceVoice})
	if !s.opts.ForwardVoiceToChat || s.matcher.Match(text).Matched {
		return
	}
	s.goBackground(func(ctx context.Context) {
		if err := s.converse(ctx, text); err != nil {
			s.logger.Warn().Err(err).Msg("Voice message not answered")
		}
	})
}

func (s *Surface) onTrigger(d recognition.Detection) {
	s.handleTrigger(d, alert.SourceVoice)
}

func (s *Surface) handleTrigger(d recognition.Detection, source string) {
	observability.RecordTrigger(d.Phrase, source, d.Fuzzy)
	s.logger.Warn().Str("phrase", d.Phrase).Str("source", source).Bool("fuzzy", d.Fuzzy).Msg("Emergency phrase detected")

	s.emit(UIEvent{Type: EventEmergencyDetected, Phrase: d.Phrase, Fuzzy: d.Fuzzy, Source: source, Text: d.Text})

	ack := Acknowledgement(d.Phrase)
	s.goBackground(func(ctx context.Context) {
		s.Respond(ctx, ack)
	})

	if s.emergency != nil {
		s.emergency(s.ctx, alert.Emergency{
			SessionID:  s.opts.SessionID,
			Phrase:     d.Phrase,
			Fuzzy:      d.Fuzzy,
			Source:     source,
			Transcript: d.Text,
			DetectedAt: s.clock.Now(),
		})
	}
}

func (s *Surface) converse(ctx context.Context, text string) error {
	reply, err := s.processor.Reply(ctx, s.opts.SessionID, text)
	if err != nil {
		s.emit(UIEvent{Type: EventError, Text: "The assistant is unavailable right now. You can still say \"help me\" to alert your contacts."})
		return fmt.Errorf("chat reply: %w", err)
	}

	s.emit(UIEvent{Type: EventReply, Text: reply})
	s.Respond(ctx, reply)
	return nil
}

// goBackground runs fn on its own goroutine unless the surface is closed.
func (s *Surface) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("Recovered from panic in assistant task")
			}
		}()
		fn(s.ctx)
	}()
}

// Acknowledgement is spoken when an emergency phrase is detected.
func Acknowledgement(phrase string) string {
	return fmt.Sprintf("Emergency detected: %s. Alerting your emergency contacts now.", phrase)
}
