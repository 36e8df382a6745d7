// Package sse implements C4, the downstream SSE emitter: it owns the HTTP
// response body and serializes typed downstream events to the wire format,
// the way the teacher's providers.FormatSSEEvent formats a single frame,
// generalized into a stateful writer that owns the socket for a whole
// session.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
)

// Emitter writes one downstream SSE session to an http.ResponseWriter.
// All emissions are serialized behind a single mutex so the ping timer and
// the main state-machine loop can both write without interleaving frames
// (spec §5, §9 "Timers").
type Emitter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	flush  http.Flusher
	closed bool
	sink   func(eventType string, payload any)
}

// SetEventSink attaches a callback invoked with every frame this Emitter
// writes, after the write succeeds (SPEC_FULL.md's event-log replay aid).
// Pings are not reported; they carry no payload worth replaying.
func (e *Emitter) SetEventSink(sink func(eventType string, payload any)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// New wraps an http.ResponseWriter as an Emitter. Flusher support is
// optional; if the writer does not implement http.Flusher, writes still
// succeed but may be buffered by an intermediary.
func New(w http.ResponseWriter) *Emitter {
	f, _ := w.(http.Flusher)
	return &Emitter{w: w, flush: f}
}

// Closed reports whether the transport is known to no longer be writable.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close marks the emitter closed; subsequent writes become no-ops. Safe to
// call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Emitter) write(eventType string, payload any) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("marshal sse payload: %w", err)
	}

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		e.closed = true
		e.mu.Unlock()
		return fmt.Errorf("write sse frame: %w", err)
	}
	if e.flush != nil {
		e.flush.Flush()
	}
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink(eventType, payload)
	}
	return nil
}

// Ping emits the bare empty-data keepalive frame (no event name, spec §6.3).
func (e *Emitter) Ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if _, err := fmt.Fprint(e.w, "data: \n\n"); err != nil {
		e.closed = true
		return fmt.Errorf("write ping frame: %w", err)
	}
	if e.flush != nil {
		e.flush.Flush()
	}
	return nil
}

// MessageStart emits the session-opening event.
func (e *Emitter) MessageStart(msg anthropicapi.ResponseMessage) error {
	return e.write("message_start", anthropicapi.MessageStartEvent{Type: "message_start", Message: msg})
}

// ContentBlockStart emits a block-open event at index with the given block.
func (e *Emitter) ContentBlockStart(index int, block anthropicapi.ContentBlock) error {
	return e.write("content_block_start", anthropicapi.ContentBlockStartEvent{
		Type: "content_block_start", Index: index, ContentBlock: block,
	})
}

// ContentBlockDeltaText emits a text_delta at index.
func (e *Emitter) ContentBlockDeltaText(index int, text string) error {
	return e.write("content_block_delta", anthropicapi.ContentBlockDeltaEvent{
		Type: "content_block_delta", Index: index,
		Delta: anthropicapi.Delta{Type: "text_delta", Text: text},
	})
}

// ContentBlockDeltaInputJSON emits an input_json_delta fragment at index.
func (e *Emitter) ContentBlockDeltaInputJSON(index int, fragment string) error {
	return e.write("content_block_delta", anthropicapi.ContentBlockDeltaEvent{
		Type: "content_block_delta", Index: index,
		Delta: anthropicapi.Delta{Type: "input_json_delta", PartialJSON: fragment},
	})
}

// ContentBlockStop emits a block-close event at index.
func (e *Emitter) ContentBlockStop(index int) error {
	return e.write("content_block_stop", anthropicapi.ContentBlockStopEvent{Type: "content_block_stop", Index: index})
}

// MessageDelta emits the terminal stop-reason/usage delta.
func (e *Emitter) MessageDelta(stopReason string, usage anthropicapi.Usage) error {
	return e.write("message_delta", anthropicapi.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropicapi.MessageDeltaInfo{StopReason: stopReason},
		Usage: usage,
	})
}

// MessageStop emits the final event of the session.
func (e *Emitter) MessageStop() error {
	return e.write("message_stop", anthropicapi.MessageStopEvent{Type: "message_stop"})
}

// Error emits a single error frame (spec §7: upstream stream errors
// translate to one SSE error frame rather than an abrupt close).
func (e *Emitter) Error(errType, message string) error {
	return e.write("error", anthropicapi.ErrorBody{
		Type:  "error",
		Error: anthropicapi.ErrorInfo{Type: errType, Message: message},
	})
}
