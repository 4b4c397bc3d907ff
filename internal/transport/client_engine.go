package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/safecircle/voice-guard/internal/recognition"
)

// sendFunc queues a frame for the client.
type sendFunc func(ServerFrame) error

// ClientEngine is a recognition.Engine backed by the speech recognizer of
// the connected client. Start and Stop are forwarded as frames; events come
// back through Deliver. Every start opens a new run, and the client echoes
// the run id on its events so late events from a stopped run are dropped.
type ClientEngine struct {
	send sendFunc

	mu        sync.Mutex
	available bool
	running   bool
	run       string
	handler   func(recognition.Event)
}

var _ recognition.Engine = (*ClientEngine)(nil)

// NewClientEngine creates an engine that is unavailable until the client
// declares support.
func NewClientEngine(send sendFunc) *ClientEngine {
	return &ClientEngine{send: send}
}

// SetAvailable records whether the client has a speech recognizer.
func (e *ClientEngine) SetAvailable(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = v
}

func (e *ClientEngine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Reinitialize is a no-op; availability only changes when the client sends
// a new hello.
func (e *ClientEngine) Reinitialize() error {
	return nil
}

func (e *ClientEngine) Start(handler func(recognition.Event)) error {
	e.mu.Lock()
	if !e.available {
		e.mu.Unlock()
		return recognition.ErrEngineUnavailable
	}
	run := uuid.NewString()
	e.handler = handler
	e.running = true
	e.run = run
	e.mu.Unlock()

	if err := e.send(ServerFrame{Type: FrameRecognitionStart, Run: run}); err != nil {
		e.mu.Lock()
		if e.run == run {
			e.handler = nil
			e.running = false
			e.run = ""
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *ClientEngine) Stop() error {
	e.mu.Lock()
	run := e.run
	e.handler = nil
	e.running = false
	e.run = ""
	e.mu.Unlock()

	return e.send(ServerFrame{Type: FrameRecognitionStop, Run: run})
}

// Running reports whether the client recognizer was started and has not
// stopped or ended since.
func (e *ClientEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Deliver hands a client event to the current handler. Events tagged with
// any run other than the current one, or arriving while stopped, are
// dropped.
func (e *ClientEngine) Deliver(run string, ev recognition.Event) {
	e.mu.Lock()
	if e.handler == nil || run != e.run {
		e.mu.Unlock()
		return
	}
	h := e.handler
	if ev.Kind == recognition.EventEnd {
		e.running = false
		e.handler = nil
		e.run = ""
	}
	e.mu.Unlock()

	h(ev)
}
