// Package streaming implements C5, the stream translator state machine: it
// consumes upstream Responses-API events and drives the SSE Emitter (C4) to
// produce a valid downstream Messages-API stream, preserving the block
// registry invariants from spec §3 (the "arena" model from §9).
package streaming

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/sse"
)

// PingInterval is the default ping cadence (spec §4.5).
const PingInterval = 15 * time.Second

const (
	blockKindText    = "text"
	blockKindToolUse = "tool_use"
)

// block is one entry in the append-only content-block arena (spec §9).
// Never held as a live reference across a suspension point; callers look it
// up by index every time.
type block struct {
	index     int
	kind      string
	toolID    string // downstream tool_use_id, for tool_use blocks
	callID    string // upstream call_id, for tool_use blocks
	name      string
	started   bool
	completed bool
	args      strings.Builder
}

// Session owns one streaming response's worth of translation state. It is
// driven by a single goroutine (the upstream reader loop); the only other
// concurrent actor is the ping timer, which only ever touches the Emitter,
// never Session fields directly, so no mutex protects the fields below.
type Session struct {
	emitter *sse.Emitter
	logger  *slog.Logger

	messageID string
	model     string

	blocks         []*block
	byItemID       map[string]int // upstream item/call id -> block index
	currentTextIdx *int

	usage             anthropicapi.Usage
	lastResponseID    string
	toolOpenedThisRun bool

	started   bool
	completed bool

	bindings []correlation.Binding

	pingStop  chan struct{}
	pingWG    sync.WaitGroup
	pingOnce  sync.Once
}

// New creates a session bound to an already-opened Emitter.
func New(emitter *sse.Emitter, logger *slog.Logger, model string) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		emitter:  emitter,
		logger:   logger,
		model:    model,
		byItemID: make(map[string]int),
		pingStop: make(chan struct{}),
	}
}

// Start emits message_start then one ping (spec §4.5). Idempotent.
func (s *Session) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	s.messageID = "msg_" + uuid.NewString()

	msg := anthropicapi.ResponseMessage{
		ID:      s.messageID,
		Type:    "message",
		Role:    "assistant",
		Model:   s.model,
		Content: []anthropicapi.ContentBlock{},
	}
	if err := s.emitter.MessageStart(msg); err != nil {
		return err
	}
	return s.emitter.Ping()
}

// StartPingTimer begins the periodic keepalive goroutine. It stops when ctx
// is done or Stop is called. Pings are skipped once the transport is closed
// or the session has completed (spec §4.5, §9 "Timers": writes are
// serialized through the Emitter, so no separate lock is needed here).
func (s *Session) StartPingTimer(ctx context.Context) {
	s.pingWG.Add(1)
	go func() {
		defer s.pingWG.Done()
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.pingStop:
				return
			case <-ticker.C:
				if s.completed || s.emitter.Closed() {
					return
				}
				if err := s.emitter.Ping(); err != nil {
					s.logger.Debug("ping write failed", "error", err)
					return
				}
			}
		}
	}()
}

// Stop halts the ping timer and waits for it to exit.
func (s *Session) Stop() {
	s.pingOnce.Do(func() { close(s.pingStop) })
	s.pingWG.Wait()
}

// Completed reports whether the terminal latch has been set.
func (s *Session) Completed() bool { return s.completed }

// Finish returns the state the coordinator persists to the correlation
// store: the upstream response id (only meaningful if Completed()) and the
// tool bindings minted during this turn.
func (s *Session) Finish() (lastResponseID string, bindings []correlation.Binding) {
	return s.lastResponseID, s.bindings
}

// HandleEvent dispatches one upstream event (spec §4.5's table). After the
// completed latch is set, further events are dropped with a warning.
func (s *Session) HandleEvent(ev openaiapi.StreamEvent) error {
	if s.completed {
		s.logger.Warn("event dropped after completion", "type", ev.Type)
		return nil
	}

	switch ev.Type {
	case "response.created":
		return s.onResponseCreated(ev)
	case "response.output_text.delta":
		return s.onOutputTextDelta(ev)
	case "response.output_text.done":
		return s.onOutputTextDone(ev)
	case "response.output_item.added":
		return s.onOutputItemAdded(ev)
	case "response.function_call_arguments.delta":
		return s.onFunctionCallArgumentsDelta(ev)
	case "response.output_item.done":
		return s.onOutputItemDone(ev)
	case "response.function_call_arguments.done":
		return nil // retained for potential invariant checks, no emission (spec §4.5)
	case "response.content_part.added":
		return s.onContentPartAdded(ev)
	case "response.content_part.done":
		return s.onContentPartDone(ev)
	case "response.in_progress":
		return s.emitter.Ping()
	case "response.web_search_call.in_progress":
		return s.onWebSearchInProgress(ev)
	case "response.web_search_call.searching":
		return s.onWebSearchSearching(ev)
	case "response.web_search_call.completed":
		return s.onWebSearchCompleted(ev)
	case "response.failed", "response.incomplete", "error":
		return s.onError(ev)
	case "response.completed":
		return s.onCompleted(ev)
	default:
		s.logger.Debug("unknown upstream event dropped", "type", ev.Type)
		return nil
	}
}

func (s *Session) onResponseCreated(ev openaiapi.StreamEvent) error {
	if ev.Response != nil {
		s.lastResponseID = ev.Response.ID
	}
	idx, err := s.openTextBlock()
	if err != nil {
		return err
	}
	s.currentTextIdx = &idx
	return nil
}

func (s *Session) onOutputTextDelta(ev openaiapi.StreamEvent) error {
	idx, err := s.resolveCurrentText()
	if err != nil {
		return err
	}
	b := s.blocks[idx]
	b.args.WriteString(ev.Delta)
	return s.emitter.ContentBlockDeltaText(idx, ev.Delta)
}

func (s *Session) onOutputTextDone(ev openaiapi.StreamEvent) error {
	idx, err := s.resolveCurrentText()
	if err != nil {
		return err
	}
	if err := s.closeBlock(idx); err != nil {
		return err
	}
	s.currentTextIdx = nil
	return nil
}

func (s *Session) onOutputItemAdded(ev openaiapi.StreamEvent) error {
	if ev.Item == nil || ev.Item.Type != "function_call" {
		return nil
	}
	item := ev.Item

	downstreamID := "toolu_" + uuid.NewString()
	idx := s.allocateBlock(blockKindToolUse)
	b := s.blocks[idx]
	b.toolID = downstreamID
	b.callID = item.CallID
	b.name = item.Name
	b.started = true
	s.toolOpenedThisRun = true

	key := item.ID
	if key == "" {
		key = item.CallID
	}
	s.byItemID[key] = idx

	s.bindings = append(s.bindings, correlation.Binding{
		CallID: item.CallID, ToolUseID: downstreamID, ToolName: item.Name,
	})

	return s.emitter.ContentBlockStart(idx, anthropicapi.ContentBlock{
		Type: blockKindToolUse, ID: downstreamID, Name: item.Name,
	})
}

func (s *Session) onFunctionCallArgumentsDelta(ev openaiapi.StreamEvent) error {
	idx, ok := s.byItemID[ev.ItemID]
	if !ok {
		s.logger.Warn("arguments delta for unknown item", "item_id", ev.ItemID)
		return nil
	}
	s.blocks[idx].args.WriteString(ev.Delta)
	return s.emitter.ContentBlockDeltaInputJSON(idx, ev.Delta)
}

func (s *Session) onOutputItemDone(ev openaiapi.StreamEvent) error {
	if ev.Item == nil || ev.Item.Type != "function_call" {
		return nil
	}
	key := ev.Item.ID
	if key == "" {
		key = ev.Item.CallID
	}
	idx, ok := s.byItemID[key]
	if !ok {
		s.logger.Warn("output_item.done for unknown item", "item_id", key)
		return nil
	}
	return s.closeBlock(idx)
}

// onContentPartAdded opens a text block following strict pairing: a part
// only opens a new block if none is already current (Open Question
// decision in SPEC_FULL.md).
func (s *Session) onContentPartAdded(ev openaiapi.StreamEvent) error {
	if s.currentTextIdx == nil {
		idx, err := s.openTextBlock()
		if err != nil {
			return err
		}
		s.currentTextIdx = &idx
	}
	if ev.Part != nil && ev.Part.Text != "" {
		idx := *s.currentTextIdx
		s.blocks[idx].args.WriteString(ev.Part.Text)
		return s.emitter.ContentBlockDeltaText(idx, ev.Part.Text)
	}
	return nil
}

func (s *Session) onContentPartDone(ev openaiapi.StreamEvent) error {
	if s.currentTextIdx == nil {
		return nil
	}
	idx := *s.currentTextIdx
	if ev.Part != nil && ev.Part.Text != "" && s.blocks[idx].args.Len() == 0 {
		if err := s.emitter.ContentBlockDeltaText(idx, ev.Part.Text); err != nil {
			return err
		}
	}
	if err := s.closeBlock(idx); err != nil {
		return err
	}
	s.currentTextIdx = nil
	return nil
}

func (s *Session) onWebSearchInProgress(ev openaiapi.StreamEvent) error {
	idx := s.allocateBlock(blockKindToolUse)
	b := s.blocks[idx]
	b.toolID = "toolu_" + uuid.NewString()
	b.name = "web_search"
	b.started = true
	s.toolOpenedThisRun = true

	key := ev.ItemID
	if key == "" {
		key = "web_search_" + b.toolID
	}
	s.byItemID[key] = idx

	return s.emitter.ContentBlockStart(idx, anthropicapi.ContentBlock{
		Type: blockKindToolUse, ID: b.toolID, Name: "web_search",
		Input: []byte(`{"status":"in_progress"}`),
	})
}

func (s *Session) onWebSearchSearching(ev openaiapi.StreamEvent) error {
	idx, ok := s.byItemID[ev.ItemID]
	if !ok {
		return nil
	}
	fragment := `{"status":"searching","sequence":` + strconv.Itoa(ev.SequenceNumber) + `}`
	s.blocks[idx].args.WriteString(fragment)
	return s.emitter.ContentBlockDeltaInputJSON(idx, fragment)
}

func (s *Session) onWebSearchCompleted(ev openaiapi.StreamEvent) error {
	idx, ok := s.byItemID[ev.ItemID]
	if !ok {
		return nil
	}
	return s.closeBlock(idx)
}

func (s *Session) onError(ev openaiapi.StreamEvent) error {
	msg := "upstream error"
	typ := "api_error"
	if ev.Error != nil {
		msg = ev.Error.Message
		typ = ev.Error.Type
	} else if ev.Response != nil && ev.Response.Error != nil {
		msg = ev.Response.Error.Message
		typ = ev.Response.Error.Type
	}
	s.completed = true
	return s.emitter.Error(typ, msg)
}

func (s *Session) onCompleted(ev openaiapi.StreamEvent) error {
	for _, b := range s.blocks {
		if b.started && !b.completed {
			if err := s.closeBlock(b.index); err != nil {
				return err
			}
		}
	}

	stopReason := "end_turn"
	var usage anthropicapi.Usage
	if ev.Response != nil {
		s.lastResponseID = ev.Response.ID
		if ev.Response.Status == "incomplete" && ev.Response.IncompleteDetails != nil &&
			ev.Response.IncompleteDetails.Reason == "max_output_tokens" {
			stopReason = "max_tokens"
		} else if s.toolOpenedThisRun {
			stopReason = "tool_use"
		}
		if ev.Response.Usage != nil {
			usage = anthropicapi.Usage{
				InputTokens:  ev.Response.Usage.InputTokens,
				OutputTokens: ev.Response.Usage.OutputTokens,
			}
		}
	} else if s.toolOpenedThisRun {
		stopReason = "tool_use"
	}
	s.usage = usage

	if err := s.emitter.MessageDelta(stopReason, usage); err != nil {
		return err
	}
	if err := s.emitter.MessageStop(); err != nil {
		return err
	}
	s.completed = true
	return nil
}

// -- block arena helpers ------------------------------------------------

func (s *Session) allocateBlock(kind string) int {
	idx := len(s.blocks)
	s.blocks = append(s.blocks, &block{index: idx, kind: kind})
	return idx
}

func (s *Session) openTextBlock() (int, error) {
	idx := s.allocateBlock(blockKindText)
	s.blocks[idx].started = true
	if err := s.emitter.ContentBlockStart(idx, anthropicapi.ContentBlock{Type: blockKindText, Text: ""}); err != nil {
		return idx, err
	}
	return idx, nil
}

// resolveCurrentText returns the current text block index, or the last
// unfinished text block, or opens a new one as a last resort (spec §4.5:
// "Resolve current (or last unfinished) text block").
func (s *Session) resolveCurrentText() (int, error) {
	if s.currentTextIdx != nil {
		return *s.currentTextIdx, nil
	}
	for i := len(s.blocks) - 1; i >= 0; i-- {
		b := s.blocks[i]
		if b.kind == blockKindText && b.started && !b.completed {
			s.currentTextIdx = &b.index
			return b.index, nil
		}
	}
	idx, err := s.openTextBlock()
	if err != nil {
		return idx, err
	}
	s.currentTextIdx = &idx
	return idx, nil
}

func (s *Session) closeBlock(idx int) error {
	b := s.blocks[idx]
	if b.completed {
		return nil
	}
	b.completed = true
	return s.emitter.ContentBlockStop(idx)
}
