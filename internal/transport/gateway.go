// Package transport binds browser and mobile clients to assistant surfaces
// over WebSocket.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/alert"
	"github.com/safecircle/voice-guard/internal/assistant"
	"github.com/safecircle/voice-guard/internal/chat"
	"github.com/safecircle/voice-guard/internal/clock"
	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/recognition"
	"github.com/safecircle/voice-guard/internal/resilience"
	"github.com/safecircle/voice-guard/internal/speech"
	"github.com/safecircle/voice-guard/internal/stt"
	"github.com/safecircle/voice-guard/internal/trigger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	outboundQueue  = 64
	publishTimeout = 10 * time.Second
)

// Deps are the collaborators shared by all connections.
type Deps struct {
	// Remote is the high quality synthesizer; nil disables it.
	Remote    speech.RemoteSynthesizer
	Processor chat.Processor
	Publisher alert.Publisher
	Matcher   *trigger.Matcher
	Clock     clock.Clock
}

// Gateway serves the voice WebSocket endpoint.
type Gateway struct {
	cfg      *config.Config
	deps     Deps
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	conns    map[*connection]struct{}
	draining bool
}

// NewGateway creates a gateway. Missing collaborators get safe defaults.
func NewGateway(cfg *config.Config, deps Deps) *Gateway {
	if deps.Processor == nil {
		deps.Processor = chat.Static{}
	}
	if deps.Publisher == nil {
		deps.Publisher = alert.NopPublisher{}
	}
	if deps.Matcher == nil {
		deps.Matcher = trigger.NewMatcher(trigger.DefaultLexicon())
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	return &Gateway{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			// Clients are first-party apps and browsers on any origin.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: observability.Component("transport"),
		conns:  make(map[*connection]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until the socket
// closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		g.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c, err := g.newConnection(ws)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to set up voice session")
		reject(ws, websocket.CloseInternalServerErr, "session setup failed")
		return
	}
	if !g.track(c) {
		c.cancel()
		c.surface.Close()
		reject(ws, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(c)
	c.run()
}

// Shutdown closes every open connection and waits for their background
// work, including emergency publishes, or until ctx is done. New
// connections are refused afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	conns := make([]*connection, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.logger.Info().Int("connections", len(conns)).Msg("Draining voice connections")

	var wg sync.WaitGroup
	for _, c := range conns {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close()
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) track(c *connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.conns[c] = struct{}{}
	return true
}

func (g *Gateway) untrack(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}

func reject(ws *websocket.Conn, code int, reason string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	ws.Close()
}

// RestartPolicy builds the recognition restart policy from configuration.
func RestartPolicy(cfg *config.Config) resilience.RestartPolicy {
	p := resilience.DefaultRestartPolicy()
	if cfg.MaxRestarts > 0 {
		p.MaxRestarts = cfg.MaxRestarts
	}
	if cfg.RestartBackoffMs > 0 {
		p.Backoff = time.Duration(cfg.RestartBackoffMs) * time.Millisecond
	}
	if cfg.RestartMaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.RestartMaxBackoffMs) * time.Millisecond
	}
	return p
}

// connection is one client socket bound to one assistant surface.
type connection struct {
	gateway   *Gateway
	ws        *websocket.Conn
	sessionID string
	logger    zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool

	out     chan ServerFrame
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	surface  *assistant.Surface
	client   *ClientEngine
	deepgram *stt.DeepgramEngine
	synth    *ClientSynthesizer
	player   *ClientPlayer
}

func (g *Gateway) newConnection(ws *websocket.Conn) (*connection, error) {
	c := &connection{
		gateway:   g,
		ws:        ws,
		sessionID: uuid.NewString(),
		out:       make(chan ServerFrame, outboundQueue),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	c.logger = observability.WithCorrelationID(c.sessionID).With().Str("component", "transport").Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	var engine recognition.Engine
	if g.cfg.RecognitionEngine == config.EngineDeepgram {
		c.deepgram = stt.NewDeepgramEngine(g.cfg)
		engine = c.deepgram
	} else {
		c.client = NewClientEngine(c.send)
		engine = c.client
	}

	c.synth = NewClientSynthesizer(c.send)
	c.player = NewClientPlayer(c.send, g.deps.Clock, DefaultPlaybackTimeout, c.logger)
	output := speech.NewOutput(speech.Config{
		Remote: g.deps.Remote,
		Player: c.player,
		Local:  c.synth,
		Clock:  g.deps.Clock,
		Rate:   g.cfg.LocalSpeechRate,
		Pitch:  g.cfg.LocalSpeechPitch,
		Logger: &c.logger,
	})

	policy := RestartPolicy(g.cfg)
	threshold := g.cfg.ConfidenceThreshold
	surface, err := assistant.New(assistant.Deps{
		Engine:      engine,
		Speaker:     output,
		Processor:   g.deps.Processor,
		OnEmergency: c.onEmergency,
		Emit:        c.emitUI,
		Matcher:     g.deps.Matcher,
		Clock:       g.deps.Clock,
	}, assistant.Options{
		SessionID:           c.sessionID,
		VoiceID:             g.cfg.SynthesisVoiceID,
		PreferHighQuality:   g.deps.Remote != nil,
		ForwardVoiceToChat:  true,
		InactivityTimeout:   g.cfg.InactivityTimeout(),
		ConfidenceThreshold: &threshold,
		MinWordCount:        g.cfg.MinWordCount,
		RestartPolicy:       &policy,
		Logger:              &c.logger,
	})
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.surface = surface
	return c, nil
}

func (c *connection) run() {
	c.logger.Info().Str("engine", c.gateway.cfg.RecognitionEngine).Msg("Voice connection established")

	go c.writeLoop()
	_ = c.send(ServerFrame{Type: FrameSession, SessionID: c.sessionID, Engine: c.gateway.cfg.RecognitionEngine})

	c.readLoop()
	c.close()
	c.logger.Info().Msg("Voice connection closed")
}

// send queues a frame for the writer. It fails once the writer has exited.
func (c *connection) send(f ServerFrame) error {
	select {
	case c.out <- f:
		return nil
	case <-c.stopped:
		return errConnectionClosed
	case <-c.done:
		return errConnectionClosed
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.out:
			body, err := json.Marshal(f)
			if err != nil {
				c.logger.Error().Err(err).Str("type", f.Type).Msg("Failed to encode frame")
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f ClientFrame
		if err := json.Unmarshal(message, &f); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse client frame")
			continue
		}
		c.handle(f)
	}
}

func (c *connection) handle(f ClientFrame) {
	switch f.Event {
	case EventHello:
		if c.client != nil && f.SpeechRecognition != nil {
			c.client.SetAvailable(*f.SpeechRecognition)
		}
		if len(f.Voices) > 0 {
			c.synth.SetVoices(f.Voices)
		}

	case EventToggle:
		c.surface.ToggleListening()

	case EventStart:
		c.surface.StartListening()

	case EventStop:
		c.surface.StopListening()

	case EventText:
		// Replies wait for speech_done, which this loop must stay free to read.
		text := f.Text
		c.goTask(func() {
			if err := c.surface.SubmitText(c.ctx, text); err != nil {
				c.logger.Warn().Err(err).Msg("Typed message not answered")
			}
		})

	case EventAudio:
		c.handleAudio(f.Payload)

	case EventRecognitionResult, EventRecognitionError, EventRecognitionEnd:
		if c.client == nil {
			c.logger.Debug().Str("event", f.Event).Msg("Ignoring client recognition event for server-side engine")
			return
		}
		c.client.Deliver(f.Run, f.recognitionEvent())

	case EventVoices:
		c.synth.SetVoices(f.Voices)

	case EventSpeechDone:
		c.synth.Done(f.ID)

	case EventPlaybackDone:
		c.player.Done(f.ID, f.Error)

	case EventTune:
		session := c.surface.Session()
		if f.ConfidenceThreshold != nil {
			session.SetConfidenceThreshold(*f.ConfidenceThreshold)
		}
		if f.MinWordCount != nil {
			session.SetMinWordCount(*f.MinWordCount)
		}

	default:
		c.logger.Debug().Str("event", f.Event).Msg("Unknown client event")
	}
}

func (c *connection) handleAudio(payload string) {
	if c.deepgram == nil {
		c.logger.Debug().Msg("Ignoring audio for client-side engine")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode base64 audio")
		return
	}
	if err := c.deepgram.SendAudio(pcm); err != nil {
		c.logger.Debug().Err(err).Msg("Audio not forwarded")
	}
}

func (c *connection) emitUI(ev assistant.UIEvent) {
	f := ServerFrame{
		Type:   string(ev.Type),
		Text:   ev.Text,
		Final:  ev.Final,
		Phrase: ev.Phrase,
		Fuzzy:  ev.Fuzzy,
		Source: ev.Source,
	}
	if ev.Type == assistant.EventListening {
		f.Listening = boolPtr(ev.Listening)
	}
	_ = c.send(f)
}

// onEmergency notifies the client and publishes the emergency. Publishing
// outlives the connection.
func (c *connection) onEmergency(ctx context.Context, e alert.Emergency) {
	_ = c.send(ServerFrame{Type: FrameEmergency, Emergency: &e})

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	c.goTask(func() {
		defer cancel()
		if err := c.gateway.deps.Publisher.PublishEmergency(pubCtx, e); err != nil {
			c.logger.Error().Err(err).Str("phrase", e.Phrase).Msg("Emergency was not published")
		}
	})
}

// goTask runs fn in the background, or inline once the connection is
// closing.
func (c *connection) goTask(fn func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Msg("Recovered from panic in connection task")
			}
		}()
		fn()
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		run()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		run()
	}()
}

// close releases the microphone, waits for background work, stops the
// writer and then completes speech still waiting on the client.
func (c *connection) close() {
	c.once.Do(func() {
		c.cancel()
		c.surface.Close()

		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.wg.Wait()

		close(c.done)
		<-c.stopped
		c.synth.release()
		c.player.release()
	})
}
