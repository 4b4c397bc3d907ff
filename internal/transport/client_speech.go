package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/clock"
	"github.com/safecircle/voice-guard/internal/speech"
	"github.com/safecircle/voice-guard/internal/tts"
)

// DefaultPlaybackTimeout bounds how long a played clip may go unacknowledged.
const DefaultPlaybackTimeout = 60 * time.Second

var errConnectionClosed = errors.New("connection closed")

// ClientSynthesizer is the client's local speech synthesizer, driven with
// speak and speak_cancel frames and acknowledged with speech_done.
type ClientSynthesizer struct {
	send sendFunc

	mu      sync.Mutex
	voices  []speech.Voice
	pending map[string]func()
}

var _ speech.LocalSynthesizer = (*ClientSynthesizer)(nil)

func NewClientSynthesizer(send sendFunc) *ClientSynthesizer {
	return &ClientSynthesizer{send: send, pending: make(map[string]func())}
}

// SetVoices replaces the voices the client reported.
func (s *ClientSynthesizer) SetVoices(voices []speech.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append([]speech.Voice(nil), voices...)
}

func (s *ClientSynthesizer) Voices() []speech.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Voice(nil), s.voices...)
}

// Cancel stops client speech. Pending acknowledgements are forgotten; the
// caller completes its own utterances.
func (s *ClientSynthesizer) Cancel() {
	s.mu.Lock()
	n := len(s.pending)
	clear(s.pending)
	s.mu.Unlock()

	if n == 0 {
		return
	}
	_ = s.send(ServerFrame{Type: FrameSpeakCancel})
}

func (s *ClientSynthesizer) Speak(u speech.Utterance, onDone func()) error {
	id := uuid.NewString()

	s.mu.Lock()
	s.pending[id] = onDone
	s.mu.Unlock()

	err := s.send(ServerFrame{
		Type:  FrameSpeak,
		ID:    id,
		Text:  u.Text,
		Voice: u.Voice,
		Rate:  u.Rate,
		Pitch: u.Pitch,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Done completes the utterance with the given id. Unknown ids are ignored.
func (s *ClientSynthesizer) Done(id string) {
	s.mu.Lock()
	onDone, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if ok && onDone != nil {
		onDone()
	}
}

// release completes every pending utterance.
func (s *ClientSynthesizer) release() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]func())
	s.mu.Unlock()

	for _, onDone := range pending {
		if onDone != nil {
			onDone()
		}
	}
}

type playback struct {
	onDone func(error)
	timer  clock.Timer
}

// ClientPlayer plays synthesized audio on the client with audio frames,
// acknowledged with playback_done.
type ClientPlayer struct {
	send    sendFunc
	clock   clock.Clock
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]*playback
}

var _ speech.Player = (*ClientPlayer)(nil)

func NewClientPlayer(send sendFunc, clk clock.Clock, timeout time.Duration, logger zerolog.Logger) *ClientPlayer {
	if clk == nil {
		clk = clock.System()
	}
	if timeout <= 0 {
		timeout = DefaultPlaybackTimeout
	}
	return &ClientPlayer{
		send:    send,
		clock:   clk,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*playback),
	}
}

func (p *ClientPlayer) Play(_ context.Context, a *tts.Audio, onDone func(error)) error {
	id := uuid.NewString()
	pb := &playback{onDone: onDone}

	p.mu.Lock()
	p.pending[id] = pb
	pb.timer = p.clock.AfterFunc(p.timeout, func() {
		p.logger.Warn().Str("id", id).Msg("Playback was not acknowledged, treating it as finished")
		p.finish(id, nil)
	})
	p.mu.Unlock()

	err := p.send(ServerFrame{
		Type:     FrameAudio,
		ID:       id,
		Data:     base64.StdEncoding.EncodeToString(a.Data),
		MIMEType: a.MIMEType,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		pb.timer.Stop()
		return err
	}
	return nil
}

// Done completes the playback with the given id. A non-empty errMsg reports
// that the client could not play the clip.
func (p *ClientPlayer) Done(id, errMsg string) {
	var err error
	if errMsg != "" {
		err = errors.New(errMsg)
	}
	p.finish(id, err)
}

func (p *ClientPlayer) finish(id string, err error) {
	p.mu.Lock()
	pb, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if !ok {
		return
	}
	pb.timer.Stop()
	if pb.onDone != nil {
		pb.onDone(err)
	}
}

// release fails every pending playback.
func (p *ClientPlayer) release() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*playback)
	p.mu.Unlock()

	for _, pb := range pending {
		pb.timer.Stop()
		if pb.onDone != nil {
			pb.onDone(errConnectionClosed)
		}
	}
}
