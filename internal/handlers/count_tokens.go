package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/tokenizer"
)

// CountTokensHandler answers POST /v1/messages/count_tokens (spec §6.2):
// it tokenizes the concatenated system prompt and message text with the
// same tiktoken encoding the teacher uses in ProxyHandler.countInputTokens.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req anthropicapi.MessageCreateParams
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var buf strings.Builder
	if text, ok := extractSystemText(req.System); ok {
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	for _, msg := range req.Messages {
		if text, ok := msg.StringContent(); ok {
			buf.WriteString(text)
			buf.WriteString("\n")
			continue
		}
		blocks, err := msg.BlockContent()
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "text" {
				buf.WriteString(b.Text)
				buf.WriteString("\n")
			}
		}
	}

	count := tokenizer.Count(buf.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"input_tokens": count})
}

func extractSystemText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var blocks []anthropicapi.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		joined := strings.Join(parts, "\n")
		return joined, joined != ""
	}
	return "", false
}

func (h *CountTokensHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropicapi.ErrorBody{
		Type:  "error",
		Error: anthropicapi.ErrorInfo{Type: "invalid_request_error", Message: message},
	})
}
