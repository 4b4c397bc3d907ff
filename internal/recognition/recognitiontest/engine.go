// Package recognitiontest provides a scripted recognition.Engine for tests.
package recognitiontest

import (
	"sync"

	"github.com/safecircle/voice-guard/internal/recognition"
)

// Engine is a fake recognition.Engine. Events are injected with Emit and its
// helpers and delivered synchronously to the most recent handler, including
// after Stop, so late events can be simulated.
type Engine struct {
	mu             sync.Mutex
	available      bool
	reinitRestores bool
	startErrs      []error
	handler        func(recognition.Event)
	running        bool
	starts         int
	stops          int
	reinitializes  int
}

var _ recognition.Engine = (*Engine)(nil)

// New returns an available engine.
func New() *Engine {
	return &Engine{available: true}
}

// SetAvailable sets what Available reports.
func (e *Engine) SetAvailable(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = v
}

// SetReinitializeRestores makes Reinitialize mark the engine available.
func (e *Engine) SetReinitializeRestores(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reinitRestores = v
}

// FailNextStarts queues errors returned by the following Start calls.
func (e *Engine) FailNextStarts(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErrs = append(e.startErrs, errs...)
}

func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

func (e *Engine) Reinitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reinitializes++
	if e.reinitRestores {
		e.available = true
	}
	return nil
}

func (e *Engine) Start(handler func(recognition.Event)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if len(e.startErrs) > 0 {
		err := e.startErrs[0]
		e.startErrs = e.startErrs[1:]
		return err
	}
	e.handler = handler
	e.running = true
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.running = false
	return nil
}

// Emit delivers ev to the last handler passed to a successful Start.
func (e *Engine) Emit(ev recognition.Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Final emits a single final segment.
func (e *Engine) Final(text string, confidence float64) {
	e.Emit(recognition.Event{
		Kind:    recognition.EventResult,
		Results: []recognition.Result{{Text: text, Confidence: confidence, IsFinal: true}},
	})
}

// Interim emits a single interim segment.
func (e *Engine) Interim(text string) {
	e.Emit(recognition.Event{
		Kind:    recognition.EventResult,
		Results: []recognition.Result{{Text: text, Confidence: 0.5}},
	})
}

// Fail emits an error event.
func (e *Engine) Fail(reason recognition.ErrorReason) {
	e.Emit(recognition.Event{Kind: recognition.EventError, Reason: reason})
}

// End emits an end event and marks the engine stopped.
func (e *Engine) End() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.Emit(recognition.Event{Kind: recognition.EventEnd})
}

func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *Engine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *Engine) Reinitializes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reinitializes
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
