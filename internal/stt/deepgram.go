// Package stt implements server-side recognition engines.
package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/audio"
	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/recognition"
	"github.com/safecircle/voice-guard/internal/resilience"
)

// liveStream is the part of the Deepgram websocket client the engine drives.
type liveStream interface {
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, cb *callbackHandler) (liveStream, error)

// callbackHandler implements the LiveMessageCallback interface for one
// stream. It embeds the default handler and overrides only the methods we
// need to customize.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	engine *DeepgramEngine
	gen    uint64
}

// Message forwards transcription results to the recognition handler
func (c *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if ev, ok := resultEvent(msg); ok {
		c.engine.deliver(c.gen, ev)
	}
	return nil
}

// Error reports stream errors as recoverable recognition errors
func (c *callbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	c.engine.breaker.RecordResult(false)
	c.engine.deliver(c.gen, recognition.Event{
		Kind:   recognition.EventError,
		Reason: recognition.ReasonOther,
		Err:    fmt.Errorf("deepgram error: %+v", errorResponse),
	})
	return nil
}

// Close turns a server-side close into an end event
func (c *callbackHandler) Close(*msginterfaces.CloseResponse) error {
	c.engine.streamClosed(c.gen)
	return nil
}

// DeepgramEngine implements recognition.Engine with Deepgram's streaming
// API. Audio is pushed in with SendAudio as 16-bit mono linear PCM.
type DeepgramEngine struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	breaker    *resilience.CircuitBreaker
	dial       dialFunc
	logger     zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	handler func(recognition.Event)
	stream  liveStream
	stopped bool
	cancel  context.CancelFunc
	pending *audio.PendingBuffer
	silence *audio.SilenceTracker
}

var _ recognition.Engine = (*DeepgramEngine)(nil)

// NewDeepgramEngine creates a Deepgram engine from configuration. Nothing is
// dialed until Start.
func NewDeepgramEngine(cfg *config.Config) *DeepgramEngine {
	d := &DeepgramEngine{
		apiKey:     cfg.DeepgramAPIKey,
		model:      cfg.DeepgramModel,
		language:   cfg.DeepgramLanguage,
		sampleRate: cfg.DeepgramSampleRate,
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:         "deepgram",
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
			OnStateChange: func(name string, _, to resilience.CircuitState) {
				observability.UpdateCircuitBreakerState(name, int(to))
			},
		}),
		logger:  observability.Component("deepgram"),
		stopped: true,
		pending: audio.NewPendingBuffer(cfg.AudioBufferSize),
		silence: audio.NewSilenceTracker(audio.SilenceConfig{
			EnergyThreshold: cfg.SilenceRMS,
			SampleRate:      cfg.DeepgramSampleRate,
			Limit:           time.Duration(cfg.DeepgramNoSpeechMs) * time.Millisecond,
		}),
	}
	d.dial = d.dialDeepgram
	return d
}

// Available reports whether an API key is configured.
func (d *DeepgramEngine) Available() bool {
	return d.apiKey != ""
}

// Reinitialize clears the circuit breaker so the next Start dials again.
func (d *DeepgramEngine) Reinitialize() error {
	d.breaker.Reset()
	return nil
}

// Start opens a new Deepgram stream and flushes audio buffered while no
// stream was open.
func (d *DeepgramEngine) Start(handler func(recognition.Event)) error {
	if !d.Available() {
		return recognition.ErrEngineUnavailable
	}
	if !d.breaker.Allow() {
		return resilience.ErrCircuitOpen
	}

	d.mu.Lock()
	d.gen++
	gen := d.gen
	closePrev := d.detachStreamLocked()
	d.handler = handler
	d.stopped = false
	d.silence.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()
	closePrev()

	ctx, span := observability.StartSpan(ctx, "deepgram.connect")
	stream, err := d.dial(ctx, &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		engine:                 d,
		gen:                    gen,
	})
	observability.EndSpan(span, err)
	d.breaker.RecordResult(err == nil)
	if err != nil {
		cancel()
		return err
	}

	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		stream.Finish()
		cancel()
		return nil
	}
	d.stream = stream
	backlog := d.pending.Drain()
	d.mu.Unlock()

	if len(backlog) > 0 {
		if _, err := stream.Write(backlog); err != nil {
			d.logger.Warn().Err(err).Int("bytes", len(backlog)).Msg("Failed to flush buffered audio")
		}
	}

	d.logger.Info().Str("model", d.model).Str("language", d.language).Msg("Deepgram stream started")
	return nil
}

func (d *DeepgramEngine) dialDeepgram(ctx context.Context, cb *callbackHandler) (liveStream, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.sampleRate,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	return client, nil
}

// Stop closes the stream and discards buffered audio. Audio sent while
// stopped is dropped.
func (d *DeepgramEngine) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.gen++
	closeStream := d.detachStreamLocked()
	d.pending.Clear()
	d.mu.Unlock()

	closeStream()
	return nil
}

// detachStreamLocked forgets the current stream and returns a func that
// finishes it. The func must run without d.mu held since Finish may call
// back into the engine.
func (d *DeepgramEngine) detachStreamLocked() func() {
	stream, cancel := d.stream, d.cancel
	d.stream, d.cancel = nil, nil
	return func() {
		if stream != nil {
			stream.Finish()
		}
		if cancel != nil {
			cancel()
		}
	}
}

// SendAudio forwards a chunk of linear16 audio. While the stream is being
// (re)opened the audio is held in a bounded buffer.
func (d *DeepgramEngine) SendAudio(pcm []byte) error {
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	noSpeech := d.silence.Process(samples)
	gen := d.gen
	stream := d.stream
	if stream == nil {
		if dropped := d.pending.Write(pcm); dropped > 0 {
			d.logger.Debug().Int("dropped", dropped).Msg("Pending audio buffer full, dropped oldest audio")
		}
	}
	d.mu.Unlock()

	if noSpeech {
		d.deliver(gen, recognition.Event{Kind: recognition.EventError, Reason: recognition.ReasonNoSpeech})
	}
	if stream == nil {
		return nil
	}

	if _, err := stream.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// deliver hands ev to the current handler unless the stream it came from
// has been replaced or stopped.
func (d *DeepgramEngine) deliver(gen uint64, ev recognition.Event) {
	d.mu.Lock()
	handler := d.handler
	current := gen == d.gen && !d.stopped
	d.mu.Unlock()

	if current && handler != nil {
		handler(ev)
	}
}

func (d *DeepgramEngine) streamClosed(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stream = nil
	handler := d.handler
	d.mu.Unlock()

	d.logger.Info().Msg("Deepgram stream closed by server")
	if handler != nil {
		handler(recognition.Event{Kind: recognition.EventEnd})
	}
}

// resultEvent translates a Deepgram message into a single-segment result
// event. Messages without transcript text are skipped.
func resultEvent(msg *msginterfaces.MessageResponse) (recognition.Event, bool) {
	if msg == nil || msg.Type != "Results" {
		return recognition.Event{}, false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return recognition.Event{}, false
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return recognition.Event{}, false
	}

	return recognition.Event{
		Kind: recognition.EventResult,
		Results: []recognition.Result{{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    msg.IsFinal,
		}},
	}, true
}
