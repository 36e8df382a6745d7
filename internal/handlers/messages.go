package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/config"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
	"github.com/Davincible/anthropic-openai-gateway/internal/eventlog"
	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/sse"
	"github.com/Davincible/anthropic-openai-gateway/internal/streaming"
	"github.com/Davincible/anthropic-openai-gateway/internal/translate"
	"github.com/Davincible/anthropic-openai-gateway/internal/upstream"
)

// MessagesHandler implements C7, the Request Coordinator (spec §4.7): per
// request it resolves a conversation, invokes C2 to build the upstream
// request, branches on streaming vs non-streaming, and folds the turn's
// outcome back into the Correlation Store. Grounded on the orchestration
// shape of the teacher's ProxyHandler.ServeHTTP in internal/handlers/proxy.go,
// generalized from a single-shot transform-and-forward into the two-path
// (streaming state machine / non-streaming translate) dispatch this protocol
// needs.
type MessagesHandler struct {
	config *config.Manager
	store  *correlation.Store
	client *upstream.Client
	logger *slog.Logger
	events *eventlog.Logger // nil unless LOG_EVENTS=true
}

// NewMessagesHandler builds the POST /v1/messages handler. events may be nil,
// which disables the event-log replay aid.
func NewMessagesHandler(cfg *config.Manager, store *correlation.Store, client *upstream.Client, logger *slog.Logger, events *eventlog.Logger) *MessagesHandler {
	return &MessagesHandler{config: cfg, store: store, client: client, logger: logger, events: events}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.invalidRequest(w, "failed to read request body: %v", err)
		return
	}

	var req anthropicapi.MessageCreateParams
	if err := json.Unmarshal(body, &req); err != nil {
		h.invalidRequest(w, "invalid request body: %v", err)
		return
	}
	if len(req.Messages) == 0 {
		h.invalidRequest(w, "messages must not be empty")
		return
	}

	convID := conversationID(r)
	conv := h.store.GetOrCreate(convID)

	cfg := h.config.Get()
	tcfg := translate.Config{UpstreamModel: cfg.UpstreamModel, MaxOutputFloor: translate.DefaultMaxOutputFloor}

	upReq, preBindings, err := translate.BuildUpstreamRequest(req, conv, tcfg, h.logger)
	if err != nil {
		h.invalidRequest(w, "request translation failed: %v", err)
		return
	}

	ctx := r.Context()
	if cfg.RequestTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	if r.Header.Get("x-stainless-helper-method") == "stream" {
		h.serveStreaming(ctx, w, req.Model, upReq, convID, preBindings)
		return
	}
	h.serveNonStreaming(ctx, w, req.Model, upReq, convID, preBindings)
}

func (h *MessagesHandler) serveNonStreaming(ctx context.Context, w http.ResponseWriter, model string, upReq *openaiapi.CreateResponseRequest, convID string, preBindings []correlation.Binding) {
	resp, err := h.client.CreateNonStreaming(ctx, upReq)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Debug("client disconnected or request timed out", "conversation_id", convID)
			h.clientClosedRequest(w)
			return
		}
		h.upstreamError(w, err)
		return
	}

	msg, turnBindings := translate.BuildDownstreamMessage(model, resp)
	h.store.Update(convID, resp.ID, append(preBindings, turnBindings...))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.logger.Error("failed to write non-streaming response", "error", err)
	}
}

func (h *MessagesHandler) serveStreaming(ctx context.Context, w http.ResponseWriter, model string, upReq *openaiapi.CreateResponseRequest, convID string, preBindings []correlation.Binding) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emitter := sse.New(w)
	if h.events != nil {
		emitter.SetEventSink(h.events.Down)
	}
	sess := streaming.New(emitter, h.logger, model)
	if err := sess.Start(); err != nil {
		h.logger.Error("failed to start stream session", "conversation_id", convID, "error", err)
		return
	}
	sess.StartPingTimer(ctx)
	defer sess.Stop()

	stream, err := h.client.CreateStreaming(ctx, upReq)
	if err != nil {
		h.logger.Error("upstream streaming request failed", "conversation_id", convID, "error", err)
		_ = emitter.Error("api_error", err.Error())
		return
	}
	defer stream.Close()

	for {
		ev, ok, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				h.logger.Debug("client disconnected mid-stream", "conversation_id", convID)
				return
			}
			h.logger.Error("upstream stream read error", "conversation_id", convID, "error", err)
			_ = emitter.Error("api_error", err.Error())
			return
		}
		if !ok {
			break
		}

		if h.events != nil {
			h.events.Up(ev)
		}

		if err := sess.HandleEvent(ev); err != nil {
			h.logger.Error("stream event handling failed", "conversation_id", convID, "error", err)
			return
		}

		if ctx.Err() != nil {
			h.logger.Debug("client disconnected mid-stream", "conversation_id", convID)
			return
		}
	}

	lastResponseID, turnBindings := sess.Finish()
	if sess.Completed() {
		h.store.Update(convID, lastResponseID, append(preBindings, turnBindings...))
	}
}

// conversationID resolves the opaque conversation identifier per spec §4.7
// step 2: x-conversation-id, else x-session-id, else a minted per-request id.
func conversationID(r *http.Request) string {
	if id := r.Header.Get("x-conversation-id"); id != "" {
		return id
	}
	if id := r.Header.Get("x-session-id"); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func (h *MessagesHandler) invalidRequest(w http.ResponseWriter, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Warn("invalid downstream request", "message", msg)
	h.writeError(w, http.StatusBadRequest, "invalid_request_error", msg)
}

// statusClientClosedRequest is the nonstandard nginx-originated 499, which
// spec §5 Timeouts mandates for a request whose context was canceled or
// whose deadline expired before the upstream call returned.
const statusClientClosedRequest = 499

// clientClosedRequest writes the spec §5 Timeouts response for a
// client-disconnect or REQUEST_TIMEOUT_MS expiry detected via ctx.Err().
func (h *MessagesHandler) clientClosedRequest(w http.ResponseWriter) {
	h.writeError(w, statusClientClosedRequest, "api_error", "client closed request")
}

// upstreamError propagates an upstream.Error's status and message per spec
// §7 ("status preserved when present"); anything else becomes a 502.
func (h *MessagesHandler) upstreamError(w http.ResponseWriter, err error) {
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		h.logger.Error("upstream error", "status", uerr.StatusCode, "body", string(uerr.Body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(uerr.StatusCode)
		w.Write(uerr.Body)
		return
	}
	h.logger.Error("upstream request failed", "error", err)
	h.writeError(w, http.StatusBadGateway, "api_error", err.Error())
}

func (h *MessagesHandler) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropicapi.ErrorBody{
		Type:  "error",
		Error: anthropicapi.ErrorInfo{Type: errType, Message: message},
	})
}
